// Package enforce applies ban decisions to the host firewall.
package enforce

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gustycube/baxter/internal/logging"
)

// Sink blocks traffic from an address or a block notation.
type Sink interface {
	Block(ctx context.Context, target string) error
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// IPTables inserts a DROP rule at the head of the INPUT chain.
type IPTables struct {
	path string
	run  runFunc
}

func NewIPTables(path string) *IPTables {
	if path == "" {
		path = "/sbin/iptables"
	}
	return &IPTables{path: path, run: execRun}
}

func (s *IPTables) Block(ctx context.Context, target string) error {
	out, err := s.run(ctx, s.path, "-I", "INPUT", "-s", target, "-j", "DROP")
	if err != nil {
		return fmt.Errorf("iptables %s: %w: %s", target, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DryRun only logs what would be blocked.
type DryRun struct {
	log *logging.Logger
}

func NewDryRun(log *logging.Logger) *DryRun {
	if log == nil {
		log = logging.Nop()
	}
	return &DryRun{log: log}
}

func (s *DryRun) Block(ctx context.Context, target string) error {
	s.log.Infow("dry run block", "target", target)
	return nil
}
