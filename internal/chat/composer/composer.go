// Package composer turns user input into outbound chat frames.
package composer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/psds-microservice/support-chat/internal/media"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

// DefaultMaxImageBytes bounds images read from disk before encoding.
const DefaultMaxImageBytes = 5 << 20

// Sender is the write side of the ticket socket; *socket.Manager satisfies it.
type Sender interface {
	SendMessage(text string, replyTo uint64, media string)
}

type Composer struct {
	sender   Sender
	maxBytes int64
	log      *logger.Logger
}

func New(sender Sender, maxBytes int64, log *logger.Logger) *Composer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{sender: sender, maxBytes: maxBytes, log: log.Named("composer")}
}

// SendPlain sends trimmed text as one frame. Blank text is ignored and false
// is returned. replyTo 0 means no reply target.
func (c *Composer) SendPlain(text string, replyTo uint64) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	c.sender.SendMessage(text, replyTo, "")
	return true
}

// SendMedia encodes the image read from r as a data URL and sends it with the
// caption in a single frame. Nothing is sent when encoding fails.
func (c *Composer) SendMedia(ctx context.Context, r io.Reader, caption string, replyTo uint64) error {
	type result struct {
		dataURL string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		u, err := media.EncodeDataURL(r, c.maxBytes)
		done <- result{u, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		c.log.Warn("image rejected", zap.Error(res.err))
		return fmt.Errorf("composer: encode image: %w", res.err)
	}
	c.sender.SendMessage(strings.TrimSpace(caption), replyTo, res.dataURL)
	return nil
}

// SendMediaFile is SendMedia over the file at path.
func (c *Composer) SendMediaFile(ctx context.Context, path, caption string, replyTo uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("composer: open image: %w", err)
	}
	defer f.Close()
	return c.SendMedia(ctx, f, caption, replyTo)
}
