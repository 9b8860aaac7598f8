package collection

import (
	uuid "github.com/satori/go.uuid"

	"github.com/TomNeyland/modash-go/ivm"
)

// EventSourceHandle identifies one external event-source connection
// feeding documents into a collection (e.g. a change-stream consumer or
// a replay job), letting callers tear it down later.
type EventSourceHandle struct {
	Token string
}

// EventSourceConfig describes an external feed. Transform turns a raw
// source event into the document to insert; a nil Transform expects the
// event to already be a *ivm.Document. A Transform error (or a non-
// document event with no Transform) emits a transform-error change
// event and skips that event. Buffer <= 0 falls back to the engine
// context's EventSourceBuffer.
type EventSourceConfig struct {
	Name      string
	Buffer    int
	Transform func(event interface{}) (*ivm.Document, error)
}

// ConnectEventSource registers an external feed and returns its handle
// plus the channel events are pushed into. Closing the channel — or
// calling DisconnectEventSource — ends the connection.
func (c *StreamingCollection) ConnectEventSource(cfg EventSourceConfig) (*EventSourceHandle, chan<- interface{}) {
	h := &EventSourceHandle{Token: uuid.NewV4().String()}
	if cfg.Buffer <= 0 {
		cfg.Buffer = c.ctx.EventSourceBuffer
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	feed := make(chan interface{}, cfg.Buffer)
	done := make(chan struct{})

	c.mu.Lock()
	c.sources[h.Token] = done
	c.mu.Unlock()

	log := c.ctx.Logger.WithField("collection", c.name).WithField("source", cfg.Name).WithField("token", h.Token)
	log.Info("event source connected")

	go func() {
		defer log.Info("event source disconnected")
		for {
			select {
			case <-done:
				return
			case raw, ok := <-feed:
				if !ok {
					return
				}
				doc, err := c.transformEvent(cfg, raw)
				if err != nil {
					log.WithError(err).Warn("event transform failed, skipping event")
					c.mu.Lock()
					c.emitLocked(ChangeEvent{Kind: TransformError, Err: ivm.ErrTransform.New(err.Error()), SourceEvent: raw})
					c.mu.Unlock()
					continue
				}
				if _, err := c.Add(doc); err != nil {
					log.WithError(err).Warn("event source insert failed")
				}
			}
		}
	}()

	return h, feed
}

func (c *StreamingCollection) transformEvent(cfg EventSourceConfig, raw interface{}) (*ivm.Document, error) {
	if cfg.Transform == nil {
		doc, ok := raw.(*ivm.Document)
		if !ok {
			return nil, ivm.ErrTransform.New("event is not a document and no transform is configured")
		}
		return doc, nil
	}
	return cfg.Transform(raw)
}

// DisconnectEventSource stops the feed identified by h. Safe to call
// more than once.
func (c *StreamingCollection) DisconnectEventSource(h *EventSourceHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	done, ok := c.sources[h.Token]
	if !ok {
		return
	}
	delete(c.sources, h.Token)
	close(done)
}
