package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

const testSettings = `{
  "Profiles": {
    "Dev":  {"ApiBase": "http://localhost:8080", "InBucket": "in-dev", "OutBucket": "out-dev"},
    "Prod": {"ApiBase": "https://denoise.example.com", "InBucket": "in", "OutBucket": "out",
             "Storage": {"Endpoint": "s3.example.com", "AccessKey": "AK", "SecretKey": "SK", "Region": "eu-west-1"}},
    "Broken": {"ApiBase": "not a url"}
  }
}`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	settings := filepath.Join(dir, "appsettings.json")
	if err := os.WriteFile(settings, []byte(testSettings), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DENOISE_DATA_DIR", dir)
	t.Setenv("DENOISE_SETTINGS", settings)
	t.Setenv("DENOISE_PROFILE", "Dev")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"denoise-agent"}, args...))
	return out.String(), err
}

func TestProfilesList(t *testing.T) {
	out, err := runApp(t, "profiles", "list")
	if err != nil {
		t.Fatalf("profiles list error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "  Broken  (invalid:") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "* Dev" {
		t.Errorf("line 1 = %q, want active marker on Dev", lines[1])
	}
	if lines[2] != "  Prod" {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestProfilesShow_MasksSecret(t *testing.T) {
	out, err := runApp(t, "profiles", "show", "Prod")
	if err != nil {
		t.Fatalf("profiles show error = %v", err)
	}
	if !strings.Contains(out, "ApiBase: https://denoise.example.com") {
		t.Errorf("output missing ApiBase:\n%s", out)
	}
	if strings.Contains(out, "SK") {
		t.Errorf("secret key leaked:\n%s", out)
	}
}

func TestProfilesShow_Errors(t *testing.T) {
	if _, err := runApp(t, "profiles", "show"); err == nil {
		t.Error("missing NAME should fail")
	}
	if _, err := runApp(t, "profiles", "show", "Staging"); err == nil {
		t.Error("unknown profile should fail")
	}
}

func TestRun_RequiresFiles(t *testing.T) {
	_, err := runApp(t, "run", " ")
	var exit cli.ExitCoder
	if err == nil {
		t.Fatal("run without files should fail")
	}
	if ok := asExitCoder(err, &exit); !ok || exit.ExitCode() != 2 {
		t.Errorf("error = %v, want exit code 2", err)
	}
}

func TestTransportFlagValidation(t *testing.T) {
	if _, err := runApp(t, "--transport", "carrier-pigeon", "profiles", "list"); err == nil {
		t.Error("invalid transport should fail")
	}
}

func TestTrimmed(t *testing.T) {
	got := trimmed([]string{" a.tif ", "", "  ", "b.tif"})
	if len(got) != 2 || got[0] != "a.tif" || got[1] != "b.tif" {
		t.Errorf("trimmed() = %q", got)
	}
}

func asExitCoder(err error, target *cli.ExitCoder) bool {
	ec, ok := err.(cli.ExitCoder)
	if ok {
		*target = ec
	}
	return ok
}

func TestWatch_RequiresDir(t *testing.T) {
	_, err := runApp(t, "watch")
	var exit cli.ExitCoder
	if !asExitCoder(err, &exit) || exit.ExitCode() != 2 {
		t.Errorf("error = %v, want exit code 2", err)
	}
}

func TestRun_RejectsUnusableAccount(t *testing.T) {
	_, err := runApp(t, "run", "--account", "..", "frame.tif")
	var exit cli.ExitCoder
	if !asExitCoder(err, &exit) || exit.ExitCode() != 2 {
		t.Errorf("error = %v, want exit code 2", err)
	}
}
