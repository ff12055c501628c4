package services

import (
	"context"
	"errors"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"agrismart/config"
)

// PlaceholderImageURL stands in when no image is provided or the upload
// fails; products always carry at least one image URL.
const PlaceholderImageURL = "https://via.placeholder.com/400x300.png?text=Product+Image"

// ImageUploader stores a product image and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, r io.Reader) (string, error)
}

// CloudinaryUploader uploads product images to Cloudinary.
type CloudinaryUploader struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryUploader(cfg config.CloudinaryConfig) (*CloudinaryUploader, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary credentials not configured")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	return &CloudinaryUploader{cld: cld, folder: cfg.Folder}, nil
}

func (u *CloudinaryUploader) UploadImage(ctx context.Context, r io.Reader) (string, error) {
	resp, err := u.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       u.folder,
		ResourceType: "image",
	})
	if err != nil {
		return "", err
	}
	if resp.Error.Message != "" {
		return "", errors.New(resp.Error.Message)
	}
	return resp.SecureURL, nil
}
