// Command swarmctl is a development-only launcher: it spawns several
// cmd/node processes on sequential ports, all pointed at the same SQLite
// registry file, so a swarm can be exercised on one machine without a
// container orchestrator. Adapted from the teacher's
// internal/process/manager.go port-allocation and subprocess lifecycle
// idiom, dropped down from three execution backends (local/Docker/K8s) to
// exactly the local one — the swarm's own peer-to-peer registry already
// does the job Docker/K8s service discovery would otherwise cover, so
// there is nothing here for those executors to add.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type nodeProcess struct {
	port int
	cmd  *exec.Cmd
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	count := flag.Int("count", 3, "number of nodes to launch")
	startPort := flag.Int("start-port", 8001, "first port to allocate; each node after takes the next one")
	registryPath := flag.String("registry", "swarmctl_registry.db", "shared SQLite file every launched node points its DATABASE at")
	nodeBin := flag.String("node-bin", "", "path to a built node binary; defaults to `go run ./cmd/node`")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	procs := make([]*nodeProcess, 0, *count)
	var mu sync.Mutex

	for i := 0; i < *count; i++ {
		port := *startPort + i
		proc, err := launchNode(ctx, port, *registryPath, *nodeBin)
		if err != nil {
			log.Fatal().Err(err).Int("port", port).Msg("failed to launch node")
		}
		mu.Lock()
		procs = append(procs, proc)
		mu.Unlock()

		wg.Add(1)
		go func(p *nodeProcess) {
			defer wg.Done()
			_ = p.cmd.Wait()
			log.Info().Int("port", p.port).Msg("node exited")
		}(proc)

		if err := waitForHealth(fmt.Sprintf("http://localhost:%d/healthz", port), 15*time.Second); err != nil {
			log.Warn().Err(err).Int("port", port).Msg("node did not report healthy in time, continuing anyway")
		} else {
			log.Info().Int("port", port).Msg("node healthy")
		}
	}

	log.Info().Int("nodes", len(procs)).Msg("swarm launched, press ctrl-c to stop")

	<-ctx.Done()
	log.Info().Msg("stopping swarm")

	for _, p := range procs {
		if p.cmd.Process == nil {
			continue
		}
		_ = p.cmd.Process.Signal(os.Interrupt)
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("nodes did not exit in time, killing")
		for _, p := range procs {
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
		}
	}
}

func launchNode(ctx context.Context, port int, registryPath, nodeBin string) (*nodeProcess, error) {
	var cmd *exec.Cmd
	if nodeBin != "" {
		cmd = exec.Command(nodeBin, "--port", fmt.Sprintf("%d", port))
	} else {
		cmd = exec.Command("go", "run", "./cmd/node", "--port", fmt.Sprintf("%d", port))
	}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("SWARMNODE_PORT=%d", port),
		fmt.Sprintf("DATABASE_URL="), // force sqlite
		fmt.Sprintf("SWARMNODE_SQLITE_PATH=%s", registryPath),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start node on port %d: %w", port, err)
	}

	log.Info().Int("port", port).Int("pid", cmd.Process.Pid).Msg("node process started")
	return &nodeProcess{port: port, cmd: cmd}, nil
}

func waitForHealth(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("health check at %s timed out after %s", url, timeout)
}
