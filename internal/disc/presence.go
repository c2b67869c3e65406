package disc

import (
	"context"
	"strings"
)

// PresenceEntry is one "path: details" line from blkid.
type PresenceEntry struct {
	Path string
	Info string
}

// blkid exits 2 when it identified nothing.
const blkidNothingFound = 2

// ParsePresence parses blkid output into path/info pairs. Lines without a
// colon or with an empty path are ignored.
func ParsePresence(raw []byte) ([]PresenceEntry, error) {
	text, err := decodeText(DefaultBlkidBinary, raw)
	if err != nil {
		return nil, err
	}
	var entries []PresenceEntry
	for len(text) > 0 {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			break
		}
		line := text[:nl]
		text = text[nl+1:]

		path, info, ok := strings.Cut(line, ":")
		if !ok || path == "" {
			continue
		}
		entries = append(entries, PresenceEntry{Path: path, Info: info})
	}
	return entries, nil
}

// Present reports whether any entry's path is a prefix of devicePath.
func Present(entries []PresenceEntry, devicePath string) bool {
	for _, entry := range entries {
		if strings.HasPrefix(devicePath, entry.Path) {
			return true
		}
	}
	return false
}

// ProbePresence runs blkid and returns the identified block devices.
func (t Toolset) ProbePresence(ctx context.Context) ([]PresenceEntry, error) {
	binary := orDefault(t.Blkid, DefaultBlkidBinary)
	out, err := t.run(ctx, binary)
	if err != nil {
		if code, ok := exitStatus(err); ok && code == blkidNothingFound {
			return nil, nil
		}
		return nil, newError(KindLaunchFail, binary, err)
	}
	entries, err := ParsePresence(out)
	if err != nil {
		return nil, retagTool(err, binary)
	}
	return entries, nil
}
