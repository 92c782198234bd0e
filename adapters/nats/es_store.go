package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/estodo/core/es"
)

const (
	defaultSubjectPrefix = "estodo.es"
	defaultStreamName    = "ESTODO_ES"
	fetchBatch           = 100
	fetchWait            = 2 * time.Second

	hdrAggregateType = "x-aggregate-type"
	hdrAggregateID   = "x-aggregate-id"
	hdrFirstSeq      = "x-first-seq"
	hdrLastSeq       = "x-last-seq"
)

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix used to store events
	StreamName    string
	// Storage defaults to file storage.
	Storage jetstream.StorageType
}

// EventStore keeps every stream on one JetStream stream. A committed batch is
// a single message on the subject <prefix>.<aggregate type>.<aggregate id>,
// so batches are atomic and the per-subject last sequence acts as the
// expected-version check.
type EventStore struct {
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  cfg.Storage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	log.Debug("stream ensured")

	return &EventStore{
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Name() string { return "nats" }

func (e *EventStore) Close() error {
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID uuid.UUID,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	subj, err := e.subjectForAggregate(aggType, aggID)
	if err != nil {
		return nil, err
	}
	startSeq := es.NewStoreLoadOptions(opts...)

	last, _, err := e.lastBatch(ctx, subj)
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return []es.Envelope{}, nil
	}

	out := []es.Envelope{}
	err = e.consume(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	}, last, func(batch []es.Envelope) bool {
		for _, env := range batch {
			if env.Seq >= startSeq {
				out = append(out, env)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", subj, err)
	}
	return out, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID uuid.UUID,
	expected es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}
	subj, err := e.subjectForAggregate(aggType, aggID)
	if err != nil {
		return nil, err
	}

	lastMsgSeq, head, err := e.lastBatch(ctx, subj)
	if err != nil {
		return nil, err
	}
	if head != expected {
		return nil, es.ConflictError(aggType, aggID, expected, head)
	}

	msg := natsgo.NewMsg(subj)
	msg.Header.Set(hdrAggregateType, aggType)
	msg.Header.Set(hdrAggregateID, aggID.String())
	msg.Header.Set(hdrFirstSeq, strconv.FormatInt(events[0].Seq.Int64(), 10))
	msg.Header.Set(hdrLastSeq, strconv.FormatInt(events[len(events)-1].Seq.Int64(), 10))
	if msg.Data, err = json.Marshal(events); err != nil {
		return nil, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(events[0].ID),
		jetstream.WithExpectLastSequencePerSubject(lastMsgSeq),
	)
	if err != nil {
		if isWrongLastSequence(err) {
			return nil, fmt.Errorf("%w: stream %s moved past %d", es.ErrConcurrencyConflict, subj, lastMsgSeq)
		}
		return nil, fmt.Errorf("failed to append to subject %s: %w", subj, err)
	}
	if ack.Duplicate {
		return nil, fmt.Errorf("%w: batch %s was already appended", es.ErrDuplicateEvent, events[0].ID)
	}

	committed := make([]es.Envelope, len(events))
	for i, env := range events {
		env.Position = ack.Sequence
		committed[i] = env
	}
	last := committed[len(committed)-1]

	e.log.Debug(
		"append",
		slog.String("subject", subj),
		last.Seq.SlogAttrWithKey("last_seq"),
		slog.Uint64("position", ack.Sequence),
		slog.Int("num_events", len(committed)),
	)
	return &es.StoreAppendResult{LastSeq: last.Seq, Committed: committed}, nil
}

// ReadAll returns whole batches in stream order. limit counts events but a
// batch is never split, so the result may exceed it by less than one batch.
func (e *EventStore) ReadAll(ctx context.Context, afterPosition uint64, limit int) ([]es.Envelope, error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream info: %w", err)
	}
	end := info.State.LastSeq
	if afterPosition >= end {
		return nil, nil
	}

	var out []es.Envelope
	err = e.consume(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    afterPosition + 1,
		FilterSubjects: []string{e.subjectPrefix + ".>"},
	}, end, func(batch []es.Envelope) bool {
		out = append(out, batch...)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	return out, nil
}

// consume feeds decoded batches to fn until the message with stream sequence
// end was seen or fn returns false.
func (e *EventStore) consume(
	ctx context.Context,
	cfg jetstream.OrderedConsumerConfig,
	end uint64,
	fn func([]es.Envelope) bool,
) error {
	cc, err := e.stream.OrderedConsumer(ctx, cfg)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		mb, err := cc.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			return err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return err
			}
			batch, err := decodeBatch(msg.Data(), md.Sequence.Stream)
			if err != nil {
				return fmt.Errorf("decode message %d: %w", md.Sequence.Stream, err)
			}
			if !fn(batch) || md.Sequence.Stream >= end {
				return nil
			}
		}
		if err := mb.Error(); err != nil {
			return err
		}
		if empty {
			return fmt.Errorf("stream ended before sequence %d", end)
		}
	}
}

// lastBatch returns the stream sequence of the last message on subj and the
// aggregate head it recorded, or 0 and es.NoVersion for an unknown subject.
func (e *EventStore) lastBatch(ctx context.Context, subj string) (uint64, es.Version, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subj)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, es.NoVersion, nil
	}
	if err != nil {
		return 0, es.NoVersion, fmt.Errorf("failed to get last message for subject %q: %w", subj, err)
	}
	if h := lm.Header.Get(hdrLastSeq); h != "" {
		v, err := strconv.ParseInt(h, 10, 64)
		if err != nil {
			return 0, es.NoVersion, fmt.Errorf("bad %s header on %s: %w", hdrLastSeq, subj, err)
		}
		return lm.Sequence, es.Version(v), nil
	}
	batch, err := decodeBatch(lm.Data, lm.Sequence)
	if err != nil {
		return 0, es.NoVersion, err
	}
	return lm.Sequence, batch[len(batch)-1].Seq, nil
}

func decodeBatch(data []byte, position uint64) ([]es.Envelope, error) {
	var batch []es.Envelope
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, errors.New("empty batch")
	}
	for i := range batch {
		batch[i].Position = position
	}
	return batch, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()
	return js.CreateOrUpdateStream(ctx, cfg)
}

func (e *EventStore) subjectForAggregate(aggType string, aggID uuid.UUID) (string, error) {
	if aggType == "" || strings.ContainsAny(aggType, ".*> ") {
		return "", fmt.Errorf("aggregate type %q is not a valid subject token", aggType)
	}
	return e.subjectPrefix + "." + aggType + "." + aggID.String(), nil
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.GlobalReader = (*EventStore)(nil)
)
