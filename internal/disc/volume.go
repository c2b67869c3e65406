package disc

import (
	"context"
	"strconv"
	"strings"

	"discarchive/internal/textutil"
)

// VolumeInfo describes the primary volume of the inserted media.
type VolumeInfo struct {
	Name       string `json:"name"`
	BlockSize  int64  `json:"block_size"`
	BlockCount int64  `json:"block_count"`
}

// TotalBytes is the full extent of the volume.
func (v VolumeInfo) TotalBytes() int64 {
	return v.BlockCount * v.BlockSize
}

// SuggestedImageName is the default file name offered to the operator. The
// label is sanitized so it always names a file directly under output_dir.
func (v VolumeInfo) SuggestedImageName() string {
	name := textutil.SanitizeFileName(v.Name)
	if name == "" {
		name = "disc"
	}
	return name + ".iso"
}

const (
	isoinfoMinLines      = 14
	volumeIDLine         = 3
	logicalBlockSizeLine = 13
	volumeSizeLine       = 14

	volumeIDPrefix         = "Volume id: "
	logicalBlockSizePrefix = "Logical block size is: "
	volumeSizePrefix       = "Volume size is: "
)

// ParseVolumeInfo reads the fixed-layout header printed by `isoinfo -d`.
func ParseVolumeInfo(raw []byte) (VolumeInfo, error) {
	text, err := decodeText(DefaultIsoinfoBinary, raw)
	if err != nil {
		return VolumeInfo{}, err
	}

	lines := make([]string, 0, isoinfoMinLines)
	for len(lines) < isoinfoMinLines {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			return VolumeInfo{}, parseErrorf(DefaultIsoinfoBinary, "expected %d lines, got %d", isoinfoMinLines, len(lines))
		}
		lines = append(lines, text[:nl])
		text = text[nl+1:]
	}

	name, ok := strings.CutPrefix(lines[volumeIDLine-1], volumeIDPrefix)
	if !ok {
		return VolumeInfo{}, parseErrorf(DefaultIsoinfoBinary, "line %d: missing %q", volumeIDLine, volumeIDPrefix)
	}
	blockSize, err := parseCountLine(lines[logicalBlockSizeLine-1], logicalBlockSizePrefix, logicalBlockSizeLine)
	if err != nil {
		return VolumeInfo{}, err
	}
	if blockSize == 0 {
		return VolumeInfo{}, parseErrorf(DefaultIsoinfoBinary, "line %d: block size is zero", logicalBlockSizeLine)
	}
	blockCount, err := parseCountLine(lines[volumeSizeLine-1], volumeSizePrefix, volumeSizeLine)
	if err != nil {
		return VolumeInfo{}, err
	}

	return VolumeInfo{Name: name, BlockSize: blockSize, BlockCount: blockCount}, nil
}

func parseCountLine(line, prefix string, number int) (int64, error) {
	value, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return 0, parseErrorf(DefaultIsoinfoBinary, "line %d: missing %q", number, prefix)
	}
	parsed, err := strconv.ParseUint(value, 10, 63)
	if err != nil {
		return 0, parseErrorf(DefaultIsoinfoBinary, "line %d: %v", number, err)
	}
	return int64(parsed), nil
}

// FetchVolumeInfo runs isoinfo against devicePath.
func (t Toolset) FetchVolumeInfo(ctx context.Context, devicePath string) (VolumeInfo, error) {
	binary := orDefault(t.Isoinfo, DefaultIsoinfoBinary)
	out, err := t.run(ctx, binary, "-d", "-i"+devicePath)
	if err != nil {
		return VolumeInfo{}, newError(KindLaunchFail, binary, err)
	}
	info, err := ParseVolumeInfo(out)
	if err != nil {
		return VolumeInfo{}, retagTool(err, binary)
	}
	return info, nil
}
