package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/bnema/modeset/internal/card"
	"github.com/bnema/modeset/internal/config"
	"github.com/bnema/modeset/internal/fb"
	"github.com/bnema/modeset/internal/kms"
	"github.com/bnema/modeset/internal/logger"
)

var testDuration time.Duration

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Claim a display pipe and cycle colors on it",
	Long: `Test takes over one connected output, flips solid-color framebuffers
on it for a while and then restores the original configuration. Run it
from a TTY; it needs DRM master.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().DurationVar(&testDuration, "duration", 5*time.Second, "How long to run")
}

// colorCycler re-queues a flip with the next color on every completed
// flip.
type colorCycler struct {
	surface *fb.Surface
	colors  []uint32
	next    int
	flips   int
	failed  error
}

func (h *colorCycler) PageFlipped(s *kms.Surface) {
	h.flips++
	buf := h.surface.BackBuffer()
	buf.Fill(h.colors[h.next])
	h.next = (h.next + 1) % len(h.colors)
	if err := h.surface.SwapBuffers(); err != nil {
		h.failed = err
	}
}

func (h *colorCycler) Error(err error) {
	h.failed = err
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	c, err := card.Open(cardPath)
	if err != nil {
		return err
	}
	defer c.Close()

	dev, err := kms.New(c, logger.Logger)
	if err != nil {
		return err
	}

	conn, m, err := pickOutput(c, cfg.Device.PreferredConnector)
	if err != nil {
		dev.Close()
		return err
	}
	crtc, err := pickCrtc(c, conn)
	if err != nil {
		dev.Close()
		return err
	}
	logger.Info("claiming output", "connector", conn.Name, "crtc", crtc,
		"mode", fmt.Sprintf("%dx%d@%d", m.HDisplay, m.VDisplay, m.VRefresh))

	fbdev := fb.New(c.File(), dev, logger.Logger)
	surface, err := fbdev.CreateSurface(crtc, m, []kms.ConnectorID{conn.ID})
	if err != nil {
		dev.Close()
		return err
	}

	handler := &colorCycler{
		surface: surface,
		colors:  []uint32{0x00CC2222, 0x0022CC22, 0x002222CC, 0x00CCCC22},
	}
	dev.SetHandler(handler)

	surface.BackBuffer().Fill(handler.colors[0])
	handler.next = 1
	if err := surface.SwapBuffers(); err != nil {
		surface.Close()
		dev.Close()
		return err
	}
	// Kick off the flip chain; completions keep it running.
	surface.BackBuffer().Fill(handler.colors[1])
	handler.next = 2
	if err := surface.SwapBuffers(); err != nil {
		surface.Close()
		dev.Close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	deadline := time.Now().Add(testDuration)
	fds := []unix.PollFd{{Fd: int32(c.Fd()), Events: unix.POLLIN}}

loop:
	for time.Now().Before(deadline) && handler.failed == nil {
		select {
		case <-sigCh:
			logger.Info("interrupted, restoring")
			break loop
		default:
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, 100)
		if err != nil && err != unix.EINTR {
			handler.failed = err
			break
		}
		if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
			dev.ProcessEvents()
		}
	}

	if !cfg.Device.RestoreOnExit {
		// A paused device skips snapshot restoration on close.
		dev.Observer().Pause(nil)
	}

	dev.ClearHandler()
	surface.Close()
	if err := dev.Close(); err != nil {
		return err
	}

	if handler.failed != nil {
		return fmt.Errorf("test aborted: %w", handler.failed)
	}
	logger.Info("test finished", "flips", handler.flips)
	return nil
}

// pickOutput chooses the connector to drive: the configured preference
// when it is connected, otherwise the first connected connector. The
// first advertised mode is the kernel's preferred one.
func pickOutput(c *card.Card, preferred string) (*kms.ConnectorInfo, kms.Mode, error) {
	res, err := c.Resources()
	if err != nil {
		return nil, kms.Mode{}, err
	}
	var first *kms.ConnectorInfo
	for _, id := range res.Connectors {
		info, err := c.Connector(id)
		if err != nil || !info.Connected || len(info.Modes) == 0 {
			continue
		}
		if info.Name == preferred {
			return info, info.Modes[0], nil
		}
		if first == nil {
			first = info
		}
	}
	if first == nil {
		return nil, kms.Mode{}, fmt.Errorf("no connected output with a valid mode on %s", c.Path())
	}
	if preferred != "" {
		logger.Warn("preferred connector not connected, falling back", "preferred", preferred, "using", first.Name)
	}
	return first, first.Modes[0], nil
}

// pickCrtc resolves a CRTC for the connector: the one it is already
// wired to when possible, otherwise any CRTC one of its encoders can
// reach.
func pickCrtc(c *card.Card, conn *kms.ConnectorInfo) (kms.CrtcID, error) {
	if conn.CurrentEncoder != 0 {
		enc, err := c.Encoder(conn.CurrentEncoder)
		if err == nil && enc.CurrentCrtc != 0 {
			return enc.CurrentCrtc, nil
		}
	}
	res, err := c.Resources()
	if err != nil {
		return 0, err
	}
	for _, encID := range conn.Encoders {
		enc, err := c.Encoder(encID)
		if err != nil {
			continue
		}
		for i, crtc := range res.Crtcs {
			if i < 32 && enc.PossibleCrtcs&(1<<uint(i)) != 0 {
				return crtc, nil
			}
		}
	}
	return 0, fmt.Errorf("no crtc reachable from connector %s", conn.Name)
}
