package pipeline

import (
	"context"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

func (p *Pipeline) upload(ctx context.Context, kind, key string, a domain.Attachment) (domain.StoredAsset, error) {
	asset, err := p.deps.Assets.Upload(ctx, key, a)
	if err != nil {
		p.metrics.AssetUploads.WithLabelValues(kind, "error").Inc()
		p.logger.Warn("asset upload failed", "kind", kind, "path", key, "error", err)
		return domain.StoredAsset{}, err
	}
	p.metrics.AssetUploads.WithLabelValues(kind, "success").Inc()
	return asset, nil
}

// cleanup deletes assets uploaded by a failed attempt. It runs even when ctx
// is cancelled and only logs failures.
func (p *Pipeline) cleanup(ctx context.Context, assets []domain.StoredAsset) {
	if len(assets) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, a := range assets {
		if err := p.deps.Assets.Delete(ctx, a.Ref); err != nil {
			p.metrics.AssetCleanups.WithLabelValues("error").Inc()
			p.logger.Warn("orphaned asset cleanup failed", "ref", a.Ref, "error", err)
			continue
		}
		p.metrics.AssetCleanups.WithLabelValues("success").Inc()
	}
}
