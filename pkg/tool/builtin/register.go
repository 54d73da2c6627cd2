package builtin

import (
	"github.com/odvcencio/quill/pkg/tool"
)

// Options configures builtin registration.
type Options struct {
	WorkDir          string
	MaxFileSizeBytes int64
	MaxOutputBytes   int
	MemoryStore      *MemoryStore
	AllowPrivateURLs bool
}

// RegisterAll registers every builtin tool on the registry.
func RegisterAll(r *tool.Registry, opts Options) {
	workDirTools := []interface {
		tool.Tool
		SetWorkDir(string)
		SetMaxFileSizeBytes(int64)
		SetMaxOutputBytes(int)
	}{
		&ReadFileTool{},
		&WriteFileTool{},
		&ListDirectoryTool{},
		&EditFileTool{},
		&FindFilesTool{},
		&SearchTextTool{},
		&RunShellCommandTool{},
	}
	for _, t := range workDirTools {
		t.SetWorkDir(opts.WorkDir)
		t.SetMaxFileSizeBytes(opts.MaxFileSizeBytes)
		t.SetMaxOutputBytes(opts.MaxOutputBytes)
		r.Register(t)
	}

	r.Register(&WebFetchTool{AllowPrivate: opts.AllowPrivateURLs})
	if opts.MemoryStore != nil {
		r.Register(&SaveMemoryTool{Store: opts.MemoryStore})
	}
}
