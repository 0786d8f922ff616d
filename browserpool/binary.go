package browserpool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// chromiumRevisionByMajor maps an installed browser's major version to a
// compatible chromium snapshot revision. When the installed browser is
// too old or unknown the launcher's default revision is downloaded and
// cached instead.
var chromiumRevisionByMajor = map[int]int{
	118: 1192594,
	119: 1204232,
	120: 1217362,
	121: 1233107,
	122: 1250586,
	123: 1262506,
	124: 1274542,
	125: 1287751,
	126: 1300313,
}

var browserVersionRe = regexp.MustCompile(`(\d+)\.\d+\.\d+`)

// resolveBinary finds a browser binary to launch: an explicitly
// configured path wins, then a locally installed browser, then a cached
// download keyed by the resolved revision. The downloaded binary is
// reused across runs; only a cache miss touches the network.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	if found, has := launcher.LookPath(); has {
		return found, nil
	}

	b := launcher.NewBrowser()
	if rev, ok := chromiumRevisionByMajor[detectInstalledMajor()]; ok {
		b.Revision = rev
	}
	path, err := b.Get()
	if err == nil {
		return path, nil
	}
	slog.Warn("pinned browser revision fetch failed, falling back to default", slog.Any("error", err))

	// Generic resolution: let the launcher pick its own known-good
	// revision.
	fallback := launcher.NewBrowser()
	path, err = fallback.Get()
	if err != nil {
		return "", fmt.Errorf("resolve browser binary: %w", err)
	}
	return path, nil
}

// detectInstalledMajor asks an installed browser for its version. Returns
// 0 when no browser is present or the output is unparsable.
func detectInstalledMajor() int {
	found, has := launcher.LookPath()
	if !has {
		return 0
	}
	out, err := exec.Command(found, "--version").Output()
	if err != nil {
		return 0
	}
	match := browserVersionRe.FindStringSubmatch(string(out))
	if match == nil {
		return 0
	}
	major, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return major
}

// launch starts one browser process and wraps it in a Handle.
func launch(ctx context.Context, opts Options) (*Handle, error) {
	bin, err := resolveBinary(opts.BinPath)
	if err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(opts.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("remote-allow-origins", "*")
	if opts.ProxyURL != "" {
		l = l.Proxy(opts.ProxyURL)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	// The handle outlives the acquiring call, so the browser is not tied
	// to ctx; cancellation is handled per page by the providers.
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	slog.Debug("browser started", slog.String("bin", bin))
	return &Handle{
		browser: browser,
		cleanup: func() {
			_ = browser.Close()
			l.Cleanup()
		},
	}, nil
}
