package disc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const opticalDeviceType = "cd/dvd"

// InventoryOptions tunes how device listing lines are turned into paths.
type InventoryOptions struct {
	// StripTrailing removes this many characters from the end of each
	// captured device path. lsscsi pads the path column, so the default
	// strips one.
	StripTrailing int
}

// DefaultInventoryOptions mirrors the stock lsscsi column layout.
func DefaultInventoryOptions() InventoryOptions {
	return InventoryOptions{StripTrailing: 1}
}

// ParseInventory extracts optical drive device paths from lsscsi output,
// preserving input order.
func ParseInventory(raw []byte, opts InventoryOptions) ([]string, error) {
	text, err := decodeText(DefaultLsscsiBinary, raw)
	if err != nil {
		return nil, err
	}

	var drives []string
	for len(text) > 0 {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			break
		}
		line := text[:nl]
		text = text[nl+1:]

		deviceType, path, ok := splitInventoryLine(line)
		if !ok || deviceType != opticalDeviceType {
			continue
		}
		path = stripTrailing(path, opts.StripTrailing)
		if path == "" {
			continue
		}
		drives = append(drives, path)
	}
	return drives, nil
}

// splitInventoryLine splits "[id]  type  vendor model rev  /dev/path" into
// the type token and everything from the first slash after it.
func splitInventoryLine(line string) (string, string, bool) {
	if !strings.HasPrefix(line, "[") {
		return "", "", false
	}
	closing := strings.IndexByte(line, ']')
	if closing < 0 {
		return "", "", false
	}
	rest := strings.TrimLeft(line[closing+1:], " \t")
	space := strings.IndexByte(rest, ' ')
	if space <= 0 {
		return "", "", false
	}
	deviceType := rest[:space]
	rest = rest[space:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", "", false
	}
	return deviceType, rest[slash:], true
}

func stripTrailing(value string, count int) string {
	if count <= 0 {
		return value
	}
	runes := []rune(value)
	if count >= len(runes) {
		return ""
	}
	return string(runes[:len(runes)-count])
}

// Discover lists optical drives once using lsscsi.
func (t Toolset) Discover(ctx context.Context) ([]string, error) {
	binary := orDefault(t.Lsscsi, DefaultLsscsiBinary)
	out, err := t.run(ctx, binary)
	if err != nil {
		return nil, newError(KindLaunchFail, binary, err)
	}
	drives, err := ParseInventory(out, t.Inventory)
	if err != nil {
		return nil, retagTool(err, binary)
	}
	return drives, nil
}

// decodeText validates that raw tool output is UTF-8.
func decodeText(tool string, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	valid, _, err := transform.Bytes(encoding.UTF8Validator, raw)
	if err != nil {
		return "", newError(KindConvertToUTF, tool, fmt.Errorf("decode output: %w", err))
	}
	return string(valid), nil
}

func retagTool(err error, tool string) error {
	var discErr *Error
	if errors.As(err, &discErr) {
		discErr.Tool = tool
	}
	return err
}
