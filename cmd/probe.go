package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/bnema/modeset/internal/card"
	"github.com/bnema/modeset/internal/logger"
	"github.com/bnema/modeset/internal/ui"
)

// ConnectorReport is the probe output for one connector
type ConnectorReport struct {
	ID            uint32 `json:"id"`
	Name          string `json:"name"`
	Connected     bool   `json:"connected"`
	CurrentCrtc   uint32 `json:"current_crtc,omitempty"`
	PreferredMode string `json:"preferred_mode,omitempty"`
	ModeCount     int    `json:"mode_count"`
}

// ProbeReport is the full probe output
type ProbeReport struct {
	Card       string            `json:"card"`
	Crtcs      []uint32          `json:"crtcs"`
	Connectors []ConnectorReport `json:"connectors"`
	Error      string            `json:"error,omitempty"`
}

var jsonOutput bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the display topology of a DRM node",
	Long:  `Probe lists the CRTCs and connectors of a DRM node, which connector is currently wired to which CRTC, and the modes each connector advertises.`,
	RunE:  runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

func runProbe(cmd *cobra.Command, args []string) error {
	c, err := card.Open(cardPath)
	if err != nil {
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(ProbeReport{Card: cardPath, Error: err.Error()})
		}
		return err
	}
	defer c.Close()

	report, err := buildProbeReport(c)
	if err != nil {
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(ProbeReport{Card: cardPath, Error: err.Error()})
		}
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(report)
	}

	printProbeReport(report)
	return nil
}

func buildProbeReport(c *card.Card) (*ProbeReport, error) {
	res, err := c.Resources()
	if err != nil {
		return nil, fmt.Errorf("failed to load resources on %s: %w", c.Path(), err)
	}

	report := &ProbeReport{Card: c.Path()}
	for _, id := range res.Crtcs {
		report.Crtcs = append(report.Crtcs, uint32(id))
	}

	for _, connID := range res.Connectors {
		info, err := c.Connector(connID)
		if err != nil {
			logger.Warn("skipping unreadable connector", "connector", connID, "error", err)
			continue
		}
		rep := ConnectorReport{
			ID:        uint32(info.ID),
			Name:      info.Name,
			Connected: info.Connected,
			ModeCount: len(info.Modes),
		}
		if len(info.Modes) > 0 {
			m := info.Modes[0]
			rep.PreferredMode = fmt.Sprintf("%dx%d@%d", m.HDisplay, m.VDisplay, m.VRefresh)
		}
		if info.CurrentEncoder != 0 {
			enc, err := c.Encoder(info.CurrentEncoder)
			if err == nil && enc.CurrentCrtc != 0 {
				rep.CurrentCrtc = uint32(enc.CurrentCrtc)
			}
		}
		report.Connectors = append(report.Connectors, rep)
	}
	return report, nil
}

func printProbeReport(report *ProbeReport) {
	var output strings.Builder

	header := ui.FormatAppHeader("DISPLAY TOPOLOGY",
		fmt.Sprintf("%s: %d crtcs, %d connectors", report.Card, len(report.Crtcs), len(report.Connectors)))
	output.WriteString(header)
	output.WriteString("\n\n")

	rows := [][]string{}
	for _, conn := range report.Connectors {
		status := ui.FormatStatus(false, "disconnected")
		if conn.Connected {
			status = ui.FormatStatus(true, "connected")
		}
		crtc := "-"
		if conn.CurrentCrtc != 0 {
			crtc = fmt.Sprintf("%d", conn.CurrentCrtc)
		}
		preferred := conn.PreferredMode
		if preferred == "" {
			preferred = "-"
		}
		rows = append(rows, []string{
			conn.Name, status, crtc, preferred, fmt.Sprintf("%d", conn.ModeCount),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CONNECTOR", "STATUS", "CRTC", "PREFERRED", "MODES").
		Rows(rows...)
	output.WriteString(tbl.Render())
	output.WriteString("\n")

	fmt.Println(output.String())
}
