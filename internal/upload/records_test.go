package upload_test

import (
	"github.com/pawdirectory/media/internal/business"
	"github.com/pawdirectory/media/internal/pet"
	"github.com/pawdirectory/media/internal/upload"
	"github.com/pawdirectory/media/internal/user"
)

var (
	_ upload.PetImages      = (*pet.Repository)(nil)
	_ upload.BusinessImages = (*business.Repository)(nil)
	_ upload.ProfileImages  = (*user.Repository)(nil)
	_ upload.Ledger         = (*upload.Repository)(nil)
	_ upload.Records        = (*upload.OwnerRecords)(nil)
)
