package harvest

import (
	"context"
	"sync"

	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

// Stream is the pull iterator over the records of one run. The producing
// goroutine blocks until the consumer asks for the next record.
//
//	s := h.Run(ctx)
//	defer s.Close()
//	for s.Next() {
//	    sink.Accept(ctx, s.Record())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	records chan record.Record
	done    chan struct{}
	cancel  context.CancelFunc

	cur record.Record
	err error // written by the producer before done is closed

	closeOnce sync.Once
	closed    bool
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		records: make(chan record.Record),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
}

// failedStream returns a stream that yields nothing and reports err.
func failedStream(err error) *Stream {
	s := newStream(func() {})
	s.err = err
	close(s.records)
	close(s.done)
	return s
}

// send hands r to the consumer, giving up when ctx is done.
func (s *Stream) send(ctx context.Context, r record.Record) error {
	select {
	case s.records <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish publishes the terminal error and ends the stream.
func (s *Stream) finish(err error) {
	s.err = err
	close(s.records)
	close(s.done)
}

// Next advances to the next record. It returns false when the run ended;
// Err then reports why.
func (s *Stream) Next() bool {
	if s.closed {
		return false
	}
	r, ok := <-s.records
	if !ok {
		return false
	}
	s.cur = r
	return true
}

// Record returns the record Next advanced to.
func (s *Stream) Record() record.Record {
	return s.cur
}

// Err returns the error that ended the run, or nil once the run reached
// Done. It blocks until the run is over.
func (s *Stream) Err() error {
	<-s.done
	if s.closed {
		return nil
	}
	return s.err
}

// Close stops the run if it is still producing and waits for it to end.
// Records already pulled stay valid.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
		default:
			s.closed = true
		}
		s.cancel()
		for range s.records {
		}
	})
	<-s.done
	return nil
}
