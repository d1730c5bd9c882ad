package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pixelvault/moderation-server/analysis"
)

// Client is an in-memory analysis.Client with scripted status responses.
type Client struct {
	mu       sync.Mutex
	nextID   int
	statuses map[string]analysis.Status
	submits  []analysis.SubmitInput
	err      error
}

func NewClient() *Client {
	return &Client{
		statuses: make(map[string]analysis.Status),
	}
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID = 0
	c.statuses = make(map[string]analysis.Status)
	c.submits = nil
	c.err = nil
}

// SetStatus scripts the status returned for a job.
func (c *Client) SetStatus(externalJobID string, st analysis.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[externalJobID] = st
}

// FailWith makes every call return err until cleared with FailWith(nil).
func (c *Client) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = err
}

// Submits returns every SubmitInput received so far.
func (c *Client) Submits() []analysis.SubmitInput {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]analysis.SubmitInput, len(c.submits))
	copy(out, c.submits)
	return out
}

func (c *Client) Submit(ctx context.Context, input analysis.SubmitInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return "", c.err
	}

	c.nextID++
	id := fmt.Sprintf("mem-job-%d", c.nextID)
	c.submits = append(c.submits, input)
	c.statuses[id] = analysis.Status{State: analysis.StateQueued}
	return id, nil
}

func (c *Client) GetStatus(ctx context.Context, externalJobID string) (*analysis.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	st, ok := c.statuses[externalJobID]
	if !ok {
		return nil, analysis.ErrJobNotFound
	}
	return &st, nil
}
