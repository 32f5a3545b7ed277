package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"shroomdump/internal/config"
	"shroomdump/internal/deps"
)

// CheckEndpoint verifies that url answers with a 2xx status.
func CheckEndpoint(ctx context.Context, name, url string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
	return Result{Name: name, Detail: fmt.Sprintf("unexpected status (%d)", resp.StatusCode)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDecoder reports whether the decoder has already been built.
func CheckDecoder(cfg *config.Config) Result {
	const name = "Decoder"

	exe := cfg.DecoderExecutable()
	info, err := os.Stat(exe)
	if err != nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("not built yet; first dump builds %s", exe)}
	}
	if info.Mode().Perm()&0o111 == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s is not executable", exe)}
	}
	return Result{Name: name, Passed: true, Detail: exe}
}

// CheckSystemDeps evaluates the binaries needed to fetch and build the
// decoder. Once the decoder is built they are only needed for a rebuild, so
// they become optional.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	built := false
	if info, err := os.Stat(cfg.DecoderExecutable()); err == nil && info.Mode().IsRegular() {
		built = true
	}

	build := "make"
	if len(cfg.Decoder.BuildCommand) > 0 {
		build = cfg.Decoder.BuildCommand[0]
	}
	requirements := []deps.Requirement{
		{
			Name:        "git",
			Command:     "git",
			Description: "Required to fetch the decoder source",
			Optional:    built,
		},
		{
			Name:        build,
			Command:     build,
			Description: "Required to build the decoder",
			Optional:    built,
		},
	}
	if pm := cfg.Decoder.PackageManager; pm != "" {
		requirements = append(requirements, deps.Requirement{
			Name:        pm,
			Command:     pm,
			Description: "Installs decoder build dependencies",
			Optional:    built,
		})
	}
	return deps.CheckBinaries(requirements)
}
