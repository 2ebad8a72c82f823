package containerd

import (
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/fleetforge/pkg/types"
)

// DefaultVolumeRoot is the base directory host-relative VolumeMount sources
// are created under, mirroring the teacher's pkg/volume.DefaultVolumesPath.
const DefaultVolumeRoot = "/var/lib/fleetforge/volumes"

// buildMounts turns a template's VolumeMounts into OCI bind mount specs,
// creating each mount's host directory on demand the way the teacher's
// pkg/volume.LocalDriver.Create does. An absolute Source is treated as an
// operator-provisioned path and used as-is; a relative Source is scoped
// under volumeRoot/poolID so pools don't collide with each other's scratch
// space.
func buildMounts(volumeRoot, poolID string, mounts []types.VolumeMount) ([]specs.Mount, error) {
	if len(mounts) == 0 {
		return nil, nil
	}
	if volumeRoot == "" {
		volumeRoot = DefaultVolumeRoot
	}

	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		hostPath := m.Source
		if !filepath.IsAbs(hostPath) {
			hostPath = filepath.Join(volumeRoot, poolID, m.Source)
		}
		if err := os.MkdirAll(hostPath, 0o755); err != nil {
			return nil, fmt.Errorf("prepare volume mount %s: %w", m.Source, err)
		}

		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		out = append(out, specs.Mount{
			Source:      hostPath,
			Destination: m.Target,
			Type:        "bind",
			Options:     opts,
		})
	}
	return out, nil
}
