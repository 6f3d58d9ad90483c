package stream

import (
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/internal/citation"
	"github.com/thetombrider/chatbotcollectibus-sub002/internal/metrics"
	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

const (
	EventStatus       = "status"
	EventText         = "text"
	EventTextComplete = "text_complete"
	EventDone         = "done"
	EventError        = "error"
)

// Frame is one delivery event on the wire.
type Frame struct {
	Type    string            `json:"type"`
	Message *string           `json:"message,omitempty"`
	Content string            `json:"content,omitempty"`
	Sources []citation.Source `json:"sources,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// FrameWriter is the transport a controller writes to. *websocket.Conn
// satisfies it.
type FrameWriter interface {
	WriteJSON(v interface{}) error
}

// Controller frames and delivers events for one request. After a terminal
// event (done or error) or a write failure every operation is a no-op; a
// stream carries exactly one terminal event.
type Controller struct {
	mu            sync.Mutex
	conn          FrameWriter
	maxFrameChars int
	closed        bool
}

func NewController(conn FrameWriter, maxFrameChars int) *Controller {
	if maxFrameChars <= 0 {
		maxFrameChars = 4096
	}
	return &Controller{
		conn:          conn,
		maxFrameChars: maxFrameChars,
	}
}

func (c *Controller) SendStatus(message string) {
	var msg *string
	if message != "" {
		msg = &message
	}
	c.send(Frame{Type: EventStatus, Message: msg})
}

func (c *Controller) SendText(chunk string) {
	c.send(Frame{Type: EventText, Content: chunk})
}

// SendTextComplete delivers the full answer. Content above the frame size
// threshold is never sent as one frame: an empty text_complete resets the
// client buffer, then the content re-streams as bounded text frames. The
// threshold counts runes, matching the chunker.
func (c *Controller) SendTextComplete(content string) {
	if utf8.RuneCountInString(content) <= c.maxFrameChars {
		c.send(Frame{Type: EventTextComplete, Content: content})
		return
	}

	c.send(Frame{Type: EventTextComplete})

	runes := []rune(content)
	for start := 0; start < len(runes); start += c.maxFrameChars {
		end := start + c.maxFrameChars
		if end > len(runes) {
			end = len(runes)
		}
		c.send(Frame{Type: EventText, Content: string(runes[start:end])})
	}
}

func (c *Controller) SendDone(sources []citation.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.writeLocked(Frame{Type: EventDone, Sources: sources})
	c.closed = true
}

func (c *Controller) SendError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.writeLocked(Frame{Type: EventError, Error: message})
	c.closed = true
}

func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) send(frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.writeLocked(frame)
}

// writeLocked writes one frame. A failed write degrades to a best-effort
// minimal error frame; if even that fails the consumer is gone and the
// controller closes silently.
func (c *Controller) writeLocked(frame Frame) {
	err := c.conn.WriteJSON(frame)
	if err == nil {
		return
	}

	metrics.StreamFramesDropped.Inc()
	logger.Warn("Failed to write stream frame",
		zap.String("type", frame.Type),
		zap.Error(err),
	)

	if frame.Type != EventError {
		if err := c.conn.WriteJSON(Frame{Type: EventError, Error: "stream delivery failed"}); err != nil {
			logger.Debug("Consumer disconnected, closing stream", zap.Error(err))
		}
	}
	c.closed = true
}
