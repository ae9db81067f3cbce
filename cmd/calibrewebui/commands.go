package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/auth"
	"github.com/justyntemme/calibrewebui/internal/calibredb"
	"github.com/justyntemme/calibrewebui/internal/config"
	"github.com/justyntemme/calibrewebui/internal/ledger"
)

func stdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

// openLedger opens the ledger named by the config without starting a server
func openLedger(g *Globals) (*ledger.Ledger, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg.WebUI.DBPath, zap.NewNop())
}

// JobsListCmd prints the job ledger
type JobsListCmd struct {
	Status string `help:"Only show jobs with this status (RUNNING, COMPLETED or CANCELED)"`

	out io.Writer
}

func (j *JobsListCmd) Run(g *Globals) error {
	jobs, err := openLedger(g)
	if err != nil {
		return err
	}
	defer jobs.Close()

	list, err := jobs.List(context.Background())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout(j.out), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tMESSAGE")
	for _, job := range list {
		if j.Status != "" && !strings.EqualFold(string(job.Status), j.Status) {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", job.ID, job.Status, job.Message)
	}
	return tw.Flush()
}

// JobsClearCmd empties the job ledger
type JobsClearCmd struct {
	out io.Writer
}

func (j *JobsClearCmd) Run(g *Globals) error {
	jobs, err := openLedger(g)
	if err != nil {
		return err
	}
	defer jobs.Close()

	if err := jobs.Clear(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(stdout(j.out), "job ledger cleared")
	return nil
}

// VersionCmd prints the server version and the calibre version it drives
type VersionCmd struct {
	out io.Writer
}

func (v *VersionCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	gateway := calibredb.NewGateway(calibredb.Config{
		LibraryPath:  cfg.Calibre.LibraryPath,
		CalibredbBin: cfg.Calibre.CalibredbBin,
	}, calibredb.NewExecRunner(zap.NewNop()), nil, nil, zap.NewNop())

	fmt.Fprintf(stdout(v.out), "calibrewebui %s\ncalibre %s\n", version, gateway.Version(context.Background()))
	return nil
}

// HashPasswordCmd prints a bcrypt hash for auth.password_hash
type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash; read from stdin when omitted"`

	in  io.Reader
	out io.Writer
}

func (h *HashPasswordCmd) Run() error {
	password := h.Password
	if password == "" {
		in := h.in
		if in == nil {
			in = os.Stdin
		}
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout(h.out), hash)
	return nil
}
