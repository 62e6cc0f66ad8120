package adb

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const platformToolsURL = "https://dl.google.com/android/repository/platform-tools-latest-%s.zip"

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "adb.exe"
	}
	return "adb"
}

// Locate looks for adb in dir, then in PATH.
func Locate(dir string) (string, error) {
	local := filepath.Join(dir, binaryName())
	if _, err := os.Stat(local); err == nil {
		return filepath.Abs(local)
	}
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("adb not found in %s or PATH", dir)
}

// LocateOrDownload falls back to fetching platform-tools into dir.
func LocateOrDownload(ctx context.Context, dir string) (string, error) {
	if path, err := Locate(dir); err == nil {
		return path, nil
	}
	if err := Download(ctx, dir); err != nil {
		return "", fmt.Errorf("download adb: %w", err)
	}
	return filepath.Abs(filepath.Join(dir, binaryName()))
}

func Download(ctx context.Context, dir string) error {
	switch runtime.GOOS {
	case "windows", "linux", "darwin":
	default:
		return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(platformToolsURL, runtime.GOOS), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download platform-tools: %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "platform-tools-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return extractADB(tmp.Name(), dir, runtime.GOOS == "windows")
}

// extractADB copies adb, and on Windows its DLLs, out of a platform-tools
// archive into dir.
func extractADB(src, dir string, withDLLs bool) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	found := false
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, "platform-tools/") {
			continue
		}
		base := filepath.Base(f.Name)
		isADB := base == "adb" || base == "adb.exe"
		if !isADB && !(withDLLs && strings.HasSuffix(base, ".dll")) {
			continue
		}
		if err := extractFile(f, filepath.Join(dir, base)); err != nil {
			return err
		}
		found = found || isADB
	}
	if !found {
		return fmt.Errorf("no adb binary in %s", src)
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0o700)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
