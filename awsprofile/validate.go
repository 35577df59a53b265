// Package awsprofile checks stored AWS credentials against STS.
package awsprofile

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
)

// Validator confirms a profile's credentials are usable.
type Validator interface {
	Validate(ctx context.Context, profile catalog.Profile) error
}

// Identity is the caller a set of credentials resolves to.
type Identity struct {
	Account string
	Arn     string
	UserID  string
}

// STSValidator validates credentials with sts:GetCallerIdentity, which needs no IAM permissions.
type STSValidator struct {
	// Endpoint overrides the STS endpoint (tests, VPC endpoints). Empty uses the regional default.
	Endpoint   string
	HTTPClient *http.Client
	logger     *zap.SugaredLogger
}

// NewSTSValidator creates a validator using the default STS endpoints.
func NewSTSValidator(logger *zap.SugaredLogger) *STSValidator {
	return &STSValidator{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Validate implements Validator.
func (v *STSValidator) Validate(ctx context.Context, profile catalog.Profile) error {
	_, err := v.Identify(ctx, profile)
	return err
}

// Identify returns the account and ARN the profile's credentials belong to.
func (v *STSValidator) Identify(ctx context.Context, profile catalog.Profile) (*Identity, error) {
	if profile.AccessKey == "" || profile.SecretKey == "" {
		return nil, errors.NewInvalidRequestError("profile %s has no credentials", profile.Name)
	}

	region := profile.Region
	if region == "" {
		region = catalog.DefaultRegion
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(profile.AccessKey, profile.SecretKey, ""),
	}
	if v.HTTPClient != nil {
		cfg.HTTPClient = v.HTTPClient
	}

	client := sts.NewFromConfig(cfg, func(o *sts.Options) {
		o.RetryMaxAttempts = 1
		if v.Endpoint != "" {
			o.BaseEndpoint = aws.String(v.Endpoint)
		}
	})

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if v.logger != nil {
			v.logger.Warnw("AWS credential validation failed",
				"profile", profile.Name,
				"region", region,
				"error", err)
		}
		return nil, errors.WrapExternalFailure(err, "AWS credentials were rejected by STS")
	}

	id := &Identity{
		Account: aws.ToString(out.Account),
		Arn:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}
	if v.logger != nil {
		v.logger.Infow("AWS credentials validated", "profile", profile.Name, "account", id.Account)
	}
	return id, nil
}
