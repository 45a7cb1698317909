package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/chenhao-ye/hopperkv/engine"
	"github.com/chenhao-ye/hopperkv/ghostcache"
	"github.com/chenhao-ye/hopperkv/storage"
)

// serverState tracks the mutable dynamo.* config knobs alongside the
// engine instance they describe (the instance itself owns admit_write and
// the ghost cache range).
type serverState struct {
	mu sync.Mutex

	inst *engine.Instance

	dynamoTable          string
	dynamoMock           bool
	mockKeySize, mockValSize int
}

// ServeCommands accepts TCP connections on addr and dispatches
// newline-terminated HOPPER.* commands against st until ctx is cancelled.
func ServeCommands(ctx context.Context, addr string, st *serverState) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cmd: listen %s: %w", addr, err)
	}
	log.WithField("addr", addr).Info("hopperkv-server: accepting connections")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go handleConn(ctx, conn, st)
	}
}

func handleConn(ctx context.Context, conn net.Conn, st *serverState) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		reply := dispatch(ctx, st, line)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

// dispatch parses one command line and returns a single reply line. Bulk
// replies (arrays) are rendered as a single whitespace-separated line; this
// is a simplification of the original's RESP array replies, chosen because
// the line-oriented protocol here has no array framing of its own.
func dispatch(ctx context.Context, st *serverState, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errReply("ERR empty command")
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]
	inst := st.inst

	switch cmd {
	case "HOPPER.GET":
		return cmdGet(ctx, inst, args)
	case "HOPPER.SET":
		return cmdSet(ctx, inst, args)
	case "HOPPER.SETC":
		return cmdSetC(inst, args)
	case "HOPPER.LOAD":
		return cmdLoad(inst, args)
	case "HOPPER.STATS":
		return cmdStats(inst, args)
	case "HOPPER.RESRC.GET":
		return cmdResrcGet(inst, args)
	case "HOPPER.RESRC.SET":
		return cmdResrcSet(inst, args)
	case "HOPPER.GHOST.SAVE":
		return cmdGhostSave(inst, args)
	case "HOPPER.GHOST.LOAD":
		return cmdGhostLoad(inst, args)
	case "HOPPER.BARRIER.WAIT":
		return cmdBarrierWait(ctx, inst, args)
	case "HOPPER.BARRIER.SIGNAL":
		return cmdBarrierSignal(inst, args)
	case "HOPPER.BARRIER.COUNT":
		return cmdBarrierCount(inst, args)
	case "HOPPER.CONFIG.GET":
		return cmdConfigGet(st, args)
	case "HOPPER.CONFIG.SET":
		return cmdConfigSet(st, args)
	default:
		return errReply(fmt.Sprintf("ERR unknown command %q", fields[0]))
	}
}

func errReply(msg string) string { return msg }
func okReply() string            { return "OK" }

func wrongArity() string { return errReply("ERR " + engine.ErrWrongArity.Error()) }

// errEngineReply renders any error returned by the engine package as a
// single "ERR ..." reply line, per §7's error kinds (wrong_type, parse
// error, backend failure, ...): the sentinel's own message already
// identifies the kind, and errors.Unwrap-chained backend messages ride
// along via err.Error().
func errEngineReply(err error) string { return errReply("ERR " + err.Error()) }

func cmdGet(ctx context.Context, inst *engine.Instance, args []string) string {
	if len(args) != 1 {
		return wrongArity()
	}
	val, err := inst.Get(ctx, args[0])
	if err != nil {
		return errEngineReply(err)
	}
	return val
}

func cmdSet(ctx context.Context, inst *engine.Instance, args []string) string {
	if len(args) != 2 {
		return wrongArity()
	}
	if err := inst.Set(ctx, args[0], args[1]); err != nil {
		return errEngineReply(err)
	}
	return okReply()
}

func cmdSetC(inst *engine.Instance, args []string) string {
	if len(args) != 2 {
		return wrongArity()
	}
	inst.SetC(args[0], args[1])
	return okReply()
}

func cmdLoad(inst *engine.Instance, args []string) string {
	if len(args) != 1 {
		return wrongArity()
	}
	if err := inst.Load(args[0]); err != nil {
		return errEngineReply(err)
	}
	return okReply()
}

func cmdStats(inst *engine.Instance, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	s := inst.Stats().Snapshot()
	curve := inst.Ghost().Curve()
	var ticks, hits, misses strings.Builder
	for i, row := range curve {
		if i > 0 {
			ticks.WriteByte(',')
			hits.WriteByte(',')
			misses.WriteByte(',')
		}
		fmt.Fprintf(&ticks, "%d", row.Count)
		fmt.Fprintf(&hits, "%d", row.HitCnt)
		fmt.Fprintf(&misses, "%d", row.MissCnt)
	}
	return fmt.Sprintf(
		"ghost.ticks=[%s] ghost.hit_cnt=[%s] ghost.miss_cnt=[%s] "+
			"req_cnt=%d hit_cnt=%d miss_cnt=%d "+
			"db_rcu_consump_if_miss=%d net_bw_consump_if_miss=%d net_bw_consump_if_hit=%d "+
			"db_rcu_consump=%d db_wcu_consump=%d net_bw_consump=%d avg_kv_size=%.2f",
		ticks.String(), hits.String(), misses.String(),
		s.ReqCnt, s.HitCnt, s.MissCnt,
		s.DBRCUConsumpIfMiss, s.NetBWConsumpIfMiss, s.NetBWConsumpIfHit,
		s.DBRCUConsump, s.DBWCUConsump, s.NetBWConsump, s.AvgKVSize,
	)
}

func cmdResrcGet(inst *engine.Instance, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	v := inst.Resrc().Allocated()
	return fmt.Sprintf("%d %g %g %g", v.CacheSize, v.Stateless.DBRCU, v.Stateless.DBWCU, v.Stateless.NetBW)
}

func cmdResrcSet(inst *engine.Instance, args []string) string {
	if len(args) != 4 {
		return wrongArity()
	}
	cacheSize, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errEngineReply(fmt.Errorf("%w: <cache_size>", engine.ErrParse))
	}
	dbRCU, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return errEngineReply(fmt.Errorf("%w: <db_rcu>", engine.ErrParse))
	}
	dbWCU, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return errEngineReply(fmt.Errorf("%w: <db_wcu>", engine.ErrParse))
	}
	netBW, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return errEngineReply(fmt.Errorf("%w: <net_bw>", engine.ErrParse))
	}

	var cacheSizePtr *uint64
	if cacheSize >= 0 {
		v := uint64(cacheSize)
		cacheSizePtr = &v
	}
	var rcuPtr, wcuPtr, netPtr *float64
	if dbRCU >= 0 {
		rcuPtr = &dbRCU
	}
	if dbWCU >= 0 {
		wcuPtr = &dbWCU
	}
	if netBW >= 0 {
		netPtr = &netBW
	}
	inst.Resrc().ApplyPartial(cacheSizePtr, rcuPtr, wcuPtr, netPtr)
	return okReply()
}

func cmdGhostSave(inst *engine.Instance, args []string) string {
	if len(args) != 1 {
		return wrongArity()
	}
	if err := inst.Ghost().Save(args[0]); err != nil {
		return errEngineReply(fmt.Errorf("%w: %w", engine.ErrFileIO, err))
	}
	return okReply()
}

func cmdGhostLoad(inst *engine.Instance, args []string) string {
	if len(args) != 1 {
		return wrongArity()
	}
	if err := inst.Ghost().Load(args[0]); err != nil {
		if err == ghostcache.ErrIncompatibleCheckpoint {
			return errEngineReply(err)
		}
		return errEngineReply(fmt.Errorf("%w: %w", engine.ErrFileIO, err))
	}
	return okReply()
}

func cmdBarrierWait(ctx context.Context, inst *engine.Instance, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	if err := inst.Barrier().Wait(ctx); err != nil {
		return errReply("ERR " + err.Error())
	}
	return okReply()
}

func cmdBarrierSignal(inst *engine.Instance, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	inst.Barrier().Signal()
	return okReply()
}

func cmdBarrierCount(inst *engine.Instance, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	return strconv.Itoa(inst.Barrier().Count())
}

// cmdConfigGet reports every config knob, in the original's
// "name value name value ..." reply shape.
func cmdConfigGet(st *serverState, args []string) string {
	if len(args) != 0 {
		return wrongArity()
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	return fmt.Sprintf(
		"policy.alloc_total_net_bw %t dynamo.table %s dynamo.mock %t "+
			"dynamo.mock.format [%d %d] cache.admit_write %t",
		true, st.dynamoTable, st.dynamoMock, st.mockKeySize, st.mockValSize,
		st.inst.AdmitWrite(),
	)
}

// cmdConfigSet dispatches on the config name in args[0], mirroring
// RedisModule_HopperConfigSet's per-name argument parsing.
func cmdConfigSet(st *serverState, args []string) string {
	if len(args) < 1 {
		return wrongArity()
	}
	switch strings.ToLower(args[0]) {
	case "dynamo.table":
		if len(args) != 2 {
			return wrongArity()
		}
		st.mu.Lock()
		st.dynamoTable = args[1]
		st.dynamoMock = false
		st.mu.Unlock()
		return okReply()

	case "dynamo.mock":
		return cmdConfigSetDynamoMock(st, args[1:])

	case "cache.admit_write":
		if len(args) != 2 {
			return wrongArity()
		}
		switch args[1] {
		case "true":
			st.inst.SetAdmitWrite(true)
		case "false":
			st.inst.SetAdmitWrite(false)
		default:
			return errEngineReply(fmt.Errorf("%w: <cache.admit_write>", engine.ErrParse))
		}
		return okReply()

	case "ghost.range":
		if len(args) != 4 {
			return wrongArity()
		}
		tick, err1 := strconv.ParseUint(args[1], 10, 32)
		minTick, err2 := strconv.ParseUint(args[2], 10, 32)
		maxTick, err3 := strconv.ParseUint(args[3], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return errEngineReply(fmt.Errorf("%w: <ghost.range>", engine.ErrParse))
		}
		st.inst.SetGhostRange(uint32(tick), uint32(minTick), uint32(maxTick))
		return okReply()

	case "policy.alloc_total_net_bw":
		return errEngineReply(fmt.Errorf("%w: <policy.alloc_total_net_bw> is not configurable", engine.ErrUnknownConfig))

	default:
		return errEngineReply(fmt.Errorf("%w: %q", engine.ErrUnknownConfig, args[0]))
	}
}

func cmdConfigSetDynamoMock(st *serverState, args []string) string {
	if len(args) < 1 {
		return wrongArity()
	}
	switch args[0] {
	case "disable":
		if len(args) != 1 {
			return wrongArity()
		}
		st.mu.Lock()
		st.dynamoMock = false
		st.mu.Unlock()
		return okReply()

	case "image":
		mock, err := storage.NewMockBackend(0)
		if err != nil {
			return errEngineReply(fmt.Errorf("%w: %w", engine.ErrMalformedKV, err))
		}
		mock.EnableImage()
		for _, path := range args[1:] {
			if err := mock.LoadImage(path); err != nil {
				return errEngineReply(fmt.Errorf("%w: %w", engine.ErrFileIO, err))
			}
		}
		st.inst.SetBackend(mock)
		st.mu.Lock()
		st.dynamoMock = true
		st.mu.Unlock()
		return okReply()

	case "format":
		if len(args) != 3 {
			return wrongArity()
		}
		keySize, err1 := strconv.Atoi(args[1])
		valSize, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			return errEngineReply(fmt.Errorf("%w: <key_size>/<val_size>", engine.ErrParse))
		}
		mock, err := storage.NewMockBackend(0)
		if err != nil {
			return errEngineReply(fmt.Errorf("%w: %w", engine.ErrMalformedKV, err))
		}
		if err := mock.SetFormat(keySize, valSize); err != nil {
			return errEngineReply(fmt.Errorf("%w: %w", engine.ErrMalformedKV, err))
		}
		st.inst.SetBackend(mock)
		st.mu.Lock()
		st.dynamoMock = true
		st.mockKeySize, st.mockValSize = keySize, valSize
		st.mu.Unlock()
		return okReply()

	default:
		return errEngineReply(fmt.Errorf("%w: %q", engine.ErrUnknownConfig, args[0]))
	}
}
