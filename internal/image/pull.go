// Package image pulls and unpacks OCI images into root filesystem trees
// for offline base-image provisioning. Nothing here runs while VMs do;
// the daemon only ever sees the finished artifact.
package image

import (
	"context"
	"fmt"
	"runtime"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
)

// PullResult is a resolved image plus its content digest.
type PullResult struct {
	Image  v1.Image
	Digest digest.Digest
}

// Pull resolves an image reference and fetches the linux variant matching
// the host architecture. Guests run the host's architecture: a mismatched
// base image boots and then fails with exec format errors, so the check
// happens here instead.
func Pull(ctx context.Context, imageRef string) (*PullResult, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("parse image ref %q: %w", imageRef, err)
	}

	arch := runtime.GOARCH
	platform := v1.Platform{OS: "linux", Architecture: arch}

	desc, err := remote.Get(ref, remote.WithContext(ctx), remote.WithPlatform(platform))
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", imageRef, err)
	}

	var img v1.Image
	switch desc.MediaType {
	case types.OCIImageIndex, types.DockerManifestList:
		img, err = imageForArch(desc, arch)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", imageRef, err)
		}
	default:
		img, err = desc.Image()
		if err != nil {
			return nil, fmt.Errorf("get image: %w", err)
		}
		cfg, err := img.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("get image config: %w", err)
		}
		if cfg.OS != "linux" || cfg.Architecture != arch {
			return nil, fmt.Errorf("image %s is %s/%s, need linux/%s", imageRef, cfg.OS, cfg.Architecture, arch)
		}
	}

	h, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}

	return &PullResult{
		Image:  img,
		Digest: digest.Digest(h.String()),
	}, nil
}

func imageForArch(desc *remote.Descriptor, arch string) (v1.Image, error) {
	idx, err := desc.ImageIndex()
	if err != nil {
		return nil, fmt.Errorf("get image index: %w", err)
	}
	manifest, err := idx.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("get index manifest: %w", err)
	}
	for _, m := range manifest.Manifests {
		if m.Platform != nil && m.Platform.OS == "linux" && m.Platform.Architecture == arch {
			img, err := idx.Image(m.Digest)
			if err != nil {
				return nil, fmt.Errorf("get linux/%s image: %w", arch, err)
			}
			return img, nil
		}
	}
	return nil, fmt.Errorf("no linux/%s variant in index", arch)
}
