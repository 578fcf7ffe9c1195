// Package executil runs host commands behind a small interface so the
// packages that shell out to ip and resolvectl can be tested without root
// or a real TUN device.
//
// Consuming packages declare the narrow interface they need and accept it
// in their constructor. Production code injects Real (or DevRunner with
// -dev); tests inject Mock.
package executil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

type Runner interface {
	// Run executes a command and returns an error if it exits non-zero.
	Run(name string, args ...string) error
}

// Real executes commands via os/exec.
type Real struct{}

// Run folds the command's combined output into the error, since ip and
// resolvectl report the actual cause on stderr.
func (Real) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		if msg := bytes.TrimSpace(out); len(msg) > 0 {
			return fmt.Errorf("%s: %w: %s", Call{Name: name, Args: args}, err, msg)
		}
		return fmt.Errorf("%s: %w", Call{Name: name, Args: args}, err)
	}
	return nil
}

// Call records a single command invocation.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

type MockResult struct {
	Err error
}

// Mock records every command and replays pre-programmed results.
// It is safe for concurrent use.
//
//	m := &executil.Mock{}
//	m.Expect("ip link set dev adblock0 mtu 1500 up", executil.MockResult{Err: errEPERM})
//	svc := tunnel.New(m, opener)
//	// ... exercise code ...
//	m.AssertCalled(t, "ip addr add 10.0.0.2/32 dev adblock0")
type Mock struct {
	mu sync.Mutex

	// Calls holds every invocation in order. Read it only once the code
	// under test has returned.
	Calls []Call

	// responses is keyed by the full "name arg1 arg2" command line.
	responses map[string]MockResult
}

// Expect programs the result for an exact command line. Unprogrammed
// commands succeed.
func (m *Mock) Expect(command string, result MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[string]MockResult)
	}
	m.responses[command] = result
}

func (m *Mock) Run(name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Call{Name: name, Args: args}
	m.Calls = append(m.Calls, c)
	return m.responses[c.String()].Err
}

// CallCount returns how many times command was run.
func (m *Mock) CallCount(command string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.Calls {
		if c.String() == command {
			count++
		}
	}
	return count
}

type testingT interface {
	Helper()
	Errorf(string, ...any)
}

func (m *Mock) AssertCalled(t testingT, command string) {
	t.Helper()
	if m.CallCount(command) > 0 {
		return
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "expected command %q to be called, but it was not.\ncalls made:\n", command)
	m.mu.Lock()
	for _, c := range m.Calls {
		buf.WriteString("  " + c.String() + "\n")
	}
	m.mu.Unlock()
	t.Errorf("%s", buf.String())
}

func (m *Mock) AssertNotCalled(t testingT, command string) {
	t.Helper()
	if m.CallCount(command) > 0 {
		t.Errorf("expected command %q NOT to be called, but it was", command)
	}
}
