package app

import (
	"gorm.io/gorm"

	assetRepo "github.com/yungbote/medialab-backend/internal/data/repos/assets"
	jobRepo "github.com/yungbote/medialab-backend/internal/data/repos/jobs"
	"github.com/yungbote/medialab-backend/internal/platform/logger"
)

type Repos struct {
	Assets assetRepo.AssetRepo
	Jobs   jobRepo.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Assets: assetRepo.NewAssetRepo(db, log),
		Jobs:   jobRepo.NewJobRunRepo(db, log),
	}
}
