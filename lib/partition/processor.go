package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dFlow/lib/db"
	"github.com/ValentinKolb/dFlow/lib/engine"
	"github.com/ValentinKolb/dFlow/lib/logstream"
	"github.com/ValentinKolb/dFlow/lib/protocol"
	"github.com/cenkalti/backoff/v5"
)

// inflightCommand is a processed command whose follow-up batch was not yet
// read back from the log. A command is processed once: a failed append
// writes the same entries again, so whichever copy commits first carries
// the keys the side effects were built with.
type inflightCommand struct {
	command    *protocol.Record
	result     *engine.Result
	entries    []logstream.LogAppendEntry
	completion *logstream.AppendCompletion // nil until the entries are handed to the sequencer
	committed  bool
	started    time.Time
}

// streamProcessor reads the committed log of a partition, applies follow-up
// records to the state and, while leading, processes the committed commands
// one at a time. It runs on a single goroutine.
//
// A command is processed only after the follow-up batch of the previous one
// was applied, so every processor sees the state its predecessors produced.
type streamProcessor struct {
	p      *Partition
	reader logstream.LogReader

	queue         []*protocol.Record // committed, unprocessed commands in log order
	lastPosition  int64              // last position read from the log
	lastProcessed int64              // source position of the last applied follow-up batch

	leader   bool
	inflight *inflightCommand
	retry    *backoff.ExponentialBackOff
	retryAt  time.Time
}

func newStreamProcessor(p *Partition, lastProcessed int64) *streamProcessor {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 10 * time.Millisecond
	retry.MaxInterval = time.Second
	return &streamProcessor{
		p:             p,
		lastProcessed: lastProcessed,
		retry:         retry,
	}
}

func (sp *streamProcessor) run(ctx context.Context, ready chan<- struct{}) error {
	p := sp.p
	sp.reader = p.storage.NewReader()
	defer sp.reader.Close()
	defer sp.stepDown()

	ticker := time.NewTicker(p.cfg.LeaderCheckInterval)
	defer ticker.Stop()

	// replay everything that was committed before the start
	target := p.storage.LastPosition()
	started := time.Now()
	for {
		if err := sp.readCommitted(true); err != nil {
			return err
		}
		if sp.lastPosition >= target {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-sp.reader.Notify():
		case <-ticker.C:
		}
	}
	log.Infof("partition %d replayed the log up to position %d in %v (last processed %d, %d commands pending)",
		p.cfg.PartitionID, sp.lastPosition, time.Since(started), sp.lastProcessed, len(sp.queue))
	close(ready)

	sp.checkLeadership()
	for {
		if err := sp.readCommitted(false); err != nil {
			return err
		}
		sp.processNext()

		var done <-chan struct{}
		if sp.inflight != nil && sp.inflight.completion != nil && !sp.inflight.committed {
			done = sp.inflight.completion.Done()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sp.reader.Notify():
		case <-done:
			sp.onAppendDone()
		case <-ticker.C:
			sp.checkLeadership()
		}
	}
}

// readCommitted drains the reader. Commands are queued, follow-up batches
// are applied in one transaction each.
func (sp *streamProcessor) readCommitted(replay bool) error {
	p := sp.p
	for {
		batch, ok := sp.reader.Next()
		if !ok {
			return nil
		}
		records, err := batch.Records(p.cfg.PartitionID)
		if err != nil {
			return fmt.Errorf("failed to read batch at position %d of partition %d: %w", batch.FirstPosition, p.cfg.PartitionID, err)
		}
		sp.lastPosition = batch.LastPosition()
		if replay {
			p.metrics.replayed.Add(len(records))
		}

		if records[0].IsCommand() {
			for _, record := range records {
				if record.Position > sp.lastProcessed {
					sp.queue = append(sp.queue, record)
				}
			}
			continue
		}

		if batch.SourcePosition <= sp.lastProcessed {
			// already part of the recovered state
			continue
		}
		if err := p.state.Update(func(tx db.Tx) error {
			for _, record := range records {
				if err := p.engine.Apply(tx, record); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return fmt.Errorf("failed to apply batch at position %d of partition %d: %w", batch.FirstPosition, p.cfg.PartitionID, err)
		}
		sp.lastProcessed = batch.SourcePosition
		p.metrics.lastProcessed.Set(uint64(sp.lastProcessed))

		for len(sp.queue) > 0 && sp.queue[0].Position <= sp.lastProcessed {
			sp.queue[0] = nil
			sp.queue = sp.queue[1:]
		}
		if sp.inflight != nil && sp.lastProcessed >= sp.inflight.command.Position {
			sp.completeInflight(records)
		}
	}
}

// processNext processes the oldest queued command if the partition leads and
// no other command is in flight. An in-flight command whose append failed is
// written again.
func (sp *streamProcessor) processNext() {
	p := sp.p
	if !sp.leader || time.Now().Before(sp.retryAt) {
		return
	}
	if sp.inflight != nil {
		if sp.inflight.completion == nil {
			sp.writeInflight()
		}
		return
	}
	if len(sp.queue) == 0 {
		return
	}
	sequencer := p.sequencer.Load()
	if sequencer == nil {
		return
	}
	command := sp.queue[0]
	started := time.Now()

	var result *engine.Result
	if err := p.state.View(func(tx db.ReadTx) error {
		result = p.engine.Process(tx, command)
		return nil
	}); err != nil {
		log.Errorf("failed to open a read transaction on partition %d: %v", p.cfg.PartitionID, err)
		sp.delayRetry()
		return
	}

	entries, size := appendEntries(result.Records)
	if !sequencer.CanWriteEvents(len(entries), size) {
		log.Warningf("follow-up records of %s at position %d on partition %d exceed the batch size",
			command.Metadata.ValueType, command.Position, p.cfg.PartitionID)
		result = p.engine.RejectOversized(command)
		entries, _ = appendEntries(result.Records)
	}

	sp.inflight = &inflightCommand{
		command: command,
		result:  result,
		entries: entries,
		started: started,
	}
	sp.writeInflight()
}

// writeInflight hands the entries of the in-flight command to the sequencer.
func (sp *streamProcessor) writeInflight() {
	p := sp.p
	sequencer := p.sequencer.Load()
	if sequencer == nil {
		return
	}
	inflight := sp.inflight

	completion, err := sequencer.TryWriteWithCompletion(inflight.entries, inflight.command.Position)
	switch {
	case err == nil:
	case errors.Is(err, logstream.ErrFull):
		p.metrics.backpressure.Inc()
		sp.delayRetry()
		return
	case errors.Is(err, logstream.ErrClosed):
		return
	default:
		log.Errorf("failed to write follow-up records of position %d on partition %d: %v", inflight.command.Position, p.cfg.PartitionID, err)
		sp.delayRetry()
		return
	}

	sp.retry.Reset()
	sp.retryAt = time.Time{}
	inflight.completion = completion
}

// onAppendDone handles the end of the in-flight append. A failed append is
// written again unchanged. If the failure was a timeout the first copy may
// still commit, the copy committed second is skipped when it is read because
// its source position was already processed.
func (sp *streamProcessor) onAppendDone() {
	p := sp.p
	if err := sp.inflight.completion.Err(); err != nil {
		p.metrics.writeFailures.Inc()
		log.Warningf("follow-up records of position %d on partition %d were not committed, writing them again: %v",
			sp.inflight.command.Position, p.cfg.PartitionID, err)
		sp.inflight.completion = nil
		sp.delayRetry()
		return
	}
	sp.inflight.committed = true
}

// completeInflight runs the side effects and answers the client once the
// follow-up batch of the in-flight command was applied.
func (sp *streamProcessor) completeInflight(applied []*protocol.Record) {
	p := sp.p
	inflight := sp.inflight
	sp.inflight = nil

	result := inflight.result
	for _, fn := range result.SideEffects {
		fn()
	}

	var rejection *protocol.Record
	if result.IsRejection() {
		rejection = result.Records[0]
	}
	p.metrics.commandProcessed(inflight.command, rejection, inflight.started)

	if result.Response == nil || result.Response.RequestStreamID != p.cfg.PartitionID {
		return
	}
	response := result.Response.Record
	for i, record := range result.Records {
		if record == response && i < len(applied) {
			response = applied[i]
			break
		}
	}
	if !p.responses.complete(result.Response.RequestID, response) {
		log.Debugf("no client waits for request %d on partition %d", result.Response.RequestID, p.cfg.PartitionID)
	}
}

func (sp *streamProcessor) delayRetry() {
	sp.retryAt = time.Now().Add(sp.retry.NextBackOff())
}

func (sp *streamProcessor) checkLeadership() {
	leader := sp.p.storageLeads()
	switch {
	case leader && !sp.leader:
		sp.becomeLeader()
	case !leader && sp.leader:
		log.Infof("partition %d lost its leadership", sp.p.cfg.PartitionID)
		sp.stepDown()
	}
}

// becomeLeader starts writing once everything committed so far was read.
func (sp *streamProcessor) becomeLeader() {
	p := sp.p
	if err := sp.readCommitted(false); err != nil {
		log.Errorf("partition %d failed to catch up: %v", p.cfg.PartitionID, err)
		return
	}
	if sp.lastPosition < p.storage.LastPosition() {
		// not caught up yet, try on the next tick
		return
	}

	next := max(sp.lastPosition, sp.lastProcessed) + 1
	p.sequencer.Store(logstream.NewSequencer(p.storage, p.flowControl, logstream.SequencerOptions{
		PartitionID:     p.cfg.PartitionID,
		InitialPosition: next,
		MaxFragmentSize: p.cfg.MaxFragmentSize,
		Metrics:         p.cfg.Metrics,
	}))
	sp.leader = true
	sp.inflight = nil
	sp.retryAt = time.Time{}
	log.Infof("partition %d is leader, writing from position %d", p.cfg.PartitionID, next)

	if err := p.state.View(func(tx db.ReadTx) error {
		return p.engine.ResumeDistributions(tx)
	}); err != nil {
		log.Errorf("partition %d failed to resume pending distributions: %v", p.cfg.PartitionID, err)
	}
}

func (sp *streamProcessor) stepDown() {
	p := sp.p
	if seq := p.sequencer.Swap(nil); seq != nil {
		seq.Close()
	}
	if sp.leader {
		p.redistributor.Clear()
	}
	sp.leader = false
	sp.inflight = nil
}

// appendEntries converts records into append entries and returns their payload size.
func appendEntries(records []*protocol.Record) ([]logstream.LogAppendEntry, int) {
	entries := make([]logstream.LogAppendEntry, len(records))
	size := 0
	for i, record := range records {
		entries[i] = logstream.NewEntry(record)
		size += entries[i].Length()
	}
	return entries, size
}
