package es

import "log/slog"

// Version is the sequence number of the last event applied to an aggregate.
// The creation event of a stream has sequence 0, so a freshly created
// aggregate is at Version 0. NoVersion marks a stream that does not exist yet
// and is the expected version for the first append.
type Version int64

const NoVersion Version = -1

func (v Version) Next() Version                          { return v + 1 }
func (v Version) Exists() bool                           { return v >= 0 }
func (v Version) Int64() int64                           { return int64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }
