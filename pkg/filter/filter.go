// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/lsiv568/mongotap/pkg/accesslog"
	"github.com/lsiv568/mongotap/pkg/buffer"
	"github.com/lsiv568/mongotap/pkg/mongo"
	"github.com/lsiv568/mongotap/pkg/runtime"
	"github.com/lsiv568/mongotap/pkg/stats"
)

// Status tells the host what to do with the read path after a data event.
type Status int

const (
	// Continue lets the host keep delivering data.
	Continue Status = iota

	// Pause asks the host to stop delivering read data until
	// ResumeReads is called. It is cooperative, not blocking.
	Pause
)

// ConnectionEvent identifies which side closed the connection.
type ConnectionEvent int

const (
	LocalClose ConnectionEvent = iota
	RemoteClose
)

// Timer is a cancellable one-shot timer handle. Stopping a timer before
// it fires suppresses delivery with no other observable effect.
type Timer interface {
	Stop() bool
}

// Host is the connection owner's side of the contract. Calls back into
// the engine (including timer fires) must be serialized with OnData,
// OnWrite and OnEvent; the engine does no internal locking.
type Host interface {
	// ResumeReads asks the host to start delivering read data again.
	ResumeReads()

	// StartTimer arms a one-shot timer on the connection's event
	// source.
	StartTimer(d time.Duration, fire func()) Timer
}

// Config carries the engine's collaborators.
type Config struct {
	// StatPrefix roots every stat name, e.g. "mongo" yields
	// "mongo.op_query".
	StatPrefix string

	SessionID  string
	RemoteAddr string

	Scope     stats.Scope
	Runtime   runtime.Loader
	AccessLog *accesslog.Logger
	Fault     *FaultConfig
	Host      Host
}

type queryType int

const (
	primaryKey queryType = iota
	scatterGet
	multiGet
)

// activeQuery is the correlation context for one in-flight query. It is
// created once per decoded query and removed exactly once, by reply
// match or connection teardown.
type activeQuery struct {
	requestID  int32
	collection string
	prefixes   []string
	start      time.Time
}

// ProxyFilter observes one connection's bidirectional MongoDB traffic,
// derives stats from message content, and drives fault injection. It is
// exclusively owned by that connection's execution context and is not
// safe for concurrent use.
type ProxyFilter struct {
	cfg   Config
	scope stats.Scope
	rt    runtime.Loader

	decoder     *mongo.Decoder
	readBuffer  *buffer.Buffer
	writeBuffer *buffer.Buffer

	// sniffing is cleared permanently after one decode failure; the
	// connection keeps flowing as a plain byte pipe.
	sniffing    bool
	connLogging bool
	msgLogging  bool

	fault      faultDecision
	delayTimer Timer

	activeQueries map[int32]*activeQuery

	now func() time.Time
}

var _ mongo.MessageHandler = (*ProxyFilter)(nil)

// New creates a filter engine for one connection. Call OnNewConnection
// before feeding data.
func New(cfg Config) *ProxyFilter {
	if cfg.Scope == nil {
		cfg.Scope = stats.Nop
	}
	if cfg.Runtime == nil {
		cfg.Runtime = runtime.NewSnapshot(nil)
	}
	f := &ProxyFilter{
		cfg:           cfg,
		scope:         cfg.Scope,
		rt:            cfg.Runtime,
		readBuffer:    buffer.New(nil, nil),
		writeBuffer:   buffer.New(nil, nil),
		activeQueries: make(map[int32]*activeQuery),
		now:           time.Now,
	}
	f.decoder = mongo.NewDecoder(f)
	return f
}

// OnNewConnection evaluates the per-connection runtime gates and the
// fault decision, both fixed for the connection's lifetime.
func (f *ProxyFilter) OnNewConnection() {
	f.sniffing = f.rt.FeatureEnabled(RuntimeProxyEnabled, 100)
	f.connLogging = f.rt.FeatureEnabled(RuntimeConnectionLogging, 100)
	f.msgLogging = f.rt.FeatureEnabled(RuntimeLogging, 100)

	if f.cfg.Fault != nil && f.rt.FeatureEnabled(RuntimeDelayPercent, f.cfg.Fault.DelayPercent) {
		ms := f.rt.GetInteger(RuntimeDelayDuration, uint64(f.cfg.Fault.DelayDuration/time.Millisecond))
		f.fault = faultDecision{enabled: true, delay: time.Duration(ms) * time.Millisecond}
	}

	if f.cfg.AccessLog != nil && f.connLogging {
		f.cfg.AccessLog.ConnectionOpened(f.cfg.SessionID, f.cfg.RemoteAddr)
	}
}

// OnData feeds client-to-backend bytes through the decoder.
func (f *ProxyFilter) OnData(data []byte) Status {
	if !f.sniffing {
		return Continue
	}
	f.readBuffer.Add(data)
	f.doDecode(f.readBuffer)
	return f.status()
}

// OnWrite feeds backend-to-client bytes through the decoder. Only
// reply-type messages are expected in this direction.
func (f *ProxyFilter) OnWrite(data []byte) Status {
	if !f.sniffing {
		return Continue
	}
	f.writeBuffer.Add(data)
	f.doDecode(f.writeBuffer)
	return f.status()
}

// OnEvent handles connection teardown from either side.
func (f *ProxyFilter) OnEvent(event ConnectionEvent) {
	if len(f.activeQueries) > 0 {
		switch event {
		case LocalClose:
			f.count("cx_destroy_local_with_active_rq")
		case RemoteClose:
			f.count("cx_destroy_remote_with_active_rq")
		}
		for id := range f.activeQueries {
			f.removeActiveQuery(id)
		}
	}
	if f.delayTimer != nil {
		f.delayTimer.Stop()
		f.delayTimer = nil
	}
}

func (f *ProxyFilter) doDecode(buf *buffer.Buffer) {
	if err := f.decoder.Decode(buf); err != nil {
		f.count("decoding_error")
		f.sniffing = false
	}
}

func (f *ProxyFilter) status() Status {
	if f.delayTimer != nil {
		return Pause
	}
	return Continue
}

// OnQuery classifies the query, charges stats under every derived prefix
// and registers the correlation context.
func (f *ProxyFilter) OnQuery(q *mongo.Query) {
	f.count("op_query")
	if q.Flags&mongo.QueryTailableCursor != 0 {
		f.count("op_query_tailable_cursor")
	}
	if q.Flags&mongo.QueryNoCursorTimeout != 0 {
		f.count("op_query_no_cursor_timeout")
	}
	if q.Flags&mongo.QueryAwaitData != 0 {
		f.count("op_query_await_data")
	}
	if q.Flags&mongo.QueryExhaust != 0 {
		f.count("op_query_exhaust")
	}
	if _, err := q.Query.LookupErr("$maxTimeMS"); err != nil {
		f.count("op_query_no_max_time")
	}

	var prefixes []string
	if q.IsCommand() {
		prefixes = []string{f.statName("cmd." + commandName(q.Query))}
		for _, p := range prefixes {
			f.scope.Count(p+".total", 1)
		}
	} else {
		collection := q.CollectionName()
		prefixes = []string{f.statName("collection." + collection + ".query")}
		if fn := callsite(q.Query); fn != "" {
			prefixes = append(prefixes, f.statName("collection."+collection+".callsite."+fn+".query"))
		}

		qt := classifyQuery(unwrapQuery(q.Query))
		switch qt {
		case scatterGet:
			f.count("op_query_scatter_get")
		case multiGet:
			f.count("op_query_multi_get")
		}
		for _, p := range prefixes {
			f.scope.Count(p+".total", 1)
			switch qt {
			case scatterGet:
				f.scope.Count(p+".scatter_get", 1)
			case multiGet:
				f.scope.Count(p+".multi_get", 1)
			}
		}
	}

	if _, ok := f.activeQueries[q.RequestID]; ok {
		f.removeActiveQuery(q.RequestID)
	}
	f.activeQueries[q.RequestID] = &activeQuery{
		requestID:  q.RequestID,
		collection: q.CollectionName(),
		prefixes:   prefixes,
		start:      f.now(),
	}
	f.scope.Gauge(f.statName("op_query_active"), 1)

	if f.delayTimer == nil && f.fault.enabled && f.cfg.Host != nil {
		f.delayTimer = f.cfg.Host.StartTimer(f.fault.delay, f.onDelayFire)
	}
}

// OnReply correlates the reply against the active query table.
func (f *ProxyFilter) OnReply(r *mongo.Reply) {
	f.count("op_reply")
	if r.Flags&mongo.ReplyCursorNotFound != 0 {
		f.count("op_reply_cursor_not_found")
	}
	if r.Flags&mongo.ReplyQueryFailure != 0 {
		f.count("op_reply_query_failure")
	}
	if r.CursorID != 0 {
		f.count("op_reply_valid_cursor")
	}

	aq, ok := f.activeQueries[r.ResponseTo]
	if !ok {
		// Unmatched replies are not an error; no per-prefix stats.
		return
	}
	rtt := f.now().Sub(aq.start)
	size := r.DocumentsByteSize()
	for _, p := range aq.prefixes {
		f.scope.Histogram(p+".reply_num_docs", uint64(len(r.Documents)))
		f.scope.Histogram(p+".reply_size", size)
		f.scope.Timing(p+".reply_time_ms", rtt)
	}
	if f.cfg.AccessLog != nil && f.msgLogging {
		f.cfg.AccessLog.Exchange(f.cfg.SessionID, aq.collection, aq.requestID, len(r.Documents), size, rtt)
	}
	f.removeActiveQuery(r.ResponseTo)
}

func (f *ProxyFilter) OnGetMore(*mongo.GetMore) {
	f.count("op_get_more")
}

func (f *ProxyFilter) OnInsert(*mongo.Insert) {
	f.count("op_insert")
}

func (f *ProxyFilter) OnKillCursors(*mongo.KillCursors) {
	f.count("op_kill_cursors")
}

func (f *ProxyFilter) onDelayFire() {
	if f.delayTimer == nil {
		// Teardown released the timer before this fire ran.
		return
	}
	f.delayTimer = nil
	f.count("delays_injected")
	f.cfg.Host.ResumeReads()
}

// removeActiveQuery is the sole removal path: the gauge decrement is
// co-located with the map erasure so no cleanup trigger can miss it.
func (f *ProxyFilter) removeActiveQuery(requestID int32) {
	if _, ok := f.activeQueries[requestID]; !ok {
		return
	}
	delete(f.activeQueries, requestID)
	f.scope.Gauge(f.statName("op_query_active"), -1)
}

func (f *ProxyFilter) statName(suffix string) string {
	return f.cfg.StatPrefix + "." + suffix
}

func (f *ProxyFilter) count(suffix string) {
	f.scope.Count(f.statName(suffix), 1)
}

// unwrapQuery returns the $query sub-document when the filter criteria
// are wrapped, else the document itself.
func unwrapQuery(doc bsoncore.Document) bsoncore.Document {
	if val, err := doc.LookupErr("$query"); err == nil {
		if sub, ok := val.DocumentOK(); ok {
			return sub
		}
	}
	return doc
}

func classifyQuery(doc bsoncore.Document) queryType {
	idVal, err := doc.LookupErr("_id")
	if err != nil {
		return scatterGet
	}
	if idVal.Type == bsontype.EmbeddedDocument {
		if sub, ok := idVal.DocumentOK(); ok {
			if _, err := sub.LookupErr("$in"); err == nil {
				return multiGet
			}
		}
	}
	return primaryKey
}

// commandName returns the first field name of the command document.
func commandName(doc bsoncore.Document) string {
	elements, err := doc.Elements()
	if err != nil || len(elements) == 0 {
		return "unknown"
	}
	return elements[0].Key()
}

// callsite extracts callingFunction from a JSON object embedded in the
// query's $comment, when present.
func callsite(doc bsoncore.Document) string {
	val, err := doc.LookupErr("$comment")
	if err != nil {
		return ""
	}
	comment, ok := val.StringValueOK()
	if !ok {
		return ""
	}
	var parsed struct {
		CallingFunction string `json:"callingFunction"`
	}
	if err := json.Unmarshal([]byte(comment), &parsed); err != nil {
		return ""
	}
	return parsed.CallingFunction
}
