package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// artifactInfo is one on-disk TTS artifact discovered during a GC sweep.
type artifactInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// GC periodically sweeps every session's audio/tts directory, removing
// artifacts older than retention, and — if total TTS storage still exceeds
// maxStorageBytes — removing the oldest remaining artifacts until under the
// cap (spec §4.7 "Garbage collection").
func (p *Pipeline) GC(retention time.Duration, maxStorageBytes int64) (removed int, freedBytes int64, err error) {
	artifacts, err := p.collectArtifacts()
	if err != nil {
		return 0, 0, fmt.Errorf("tts: gc: scan artifacts: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	var kept []artifactInfo
	for _, a := range artifacts {
		if a.modTime.Before(cutoff) {
			if err := os.Remove(a.path); err != nil {
				continue
			}
			removed++
			freedBytes += a.size
			continue
		}
		kept = append(kept, a)
	}

	var total int64
	for _, a := range kept {
		total += a.size
	}
	if total <= maxStorageBytes {
		return removed, freedBytes, nil
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.Before(kept[j].modTime) })
	for _, a := range kept {
		if total <= maxStorageBytes {
			break
		}
		if err := os.Remove(a.path); err != nil {
			continue
		}
		total -= a.size
		removed++
		freedBytes += a.size
	}

	return removed, freedBytes, nil
}

// collectArtifacts walks every session's audio/tts directory and returns
// the artifacts found.
func (p *Pipeline) collectArtifacts() ([]artifactInfo, error) {
	ids, err := p.store.List()
	if err != nil {
		return nil, err
	}

	var artifacts []artifactInfo
	for _, id := range ids {
		dir := p.store.TTSDir(id)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			artifacts = append(artifacts, artifactInfo{
				path:    filepath.Join(dir, entry.Name()),
				size:    info.Size(),
				modTime: info.ModTime(),
			})
		}
	}
	return artifacts, nil
}
