// Package awsadapters narrows live AWS SDK v2 service clients down to
// the small interfaces the pipeline's packages depend on, the same
// way the teacher's infrastructure layer wraps upstream clients
// rather than letting SDK types leak into domain packages.
package awsadapters

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/organizations"

	"github.com/cloudops-platform/orgevents/pkg/accountdirectory"
)

// OrganizationsClient is the subset of the Organizations SDK client
// DescribeAccount needs.
type OrganizationsClient interface {
	DescribeAccount(ctx context.Context, params *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error)
}

// Organizations adapts a live organizations.Client to
// accountdirectory.OrganizationsClient.
type Organizations struct {
	client OrganizationsClient
}

// NewOrganizations builds an Organizations adapter.
func NewOrganizations(client OrganizationsClient) *Organizations {
	return &Organizations{client: client}
}

// DescribeAccount fetches one account's Id/Name/Email from the
// Organizations management API.
func (o *Organizations) DescribeAccount(ctx context.Context, accountID string) (accountdirectory.Account, error) {
	out, err := o.client.DescribeAccount(ctx, &organizations.DescribeAccountInput{AccountId: &accountID})
	if err != nil {
		return accountdirectory.Account{}, err
	}
	if out.Account == nil {
		return accountdirectory.Account{ID: accountID}, nil
	}

	acc := accountdirectory.Account{ID: accountID}
	if out.Account.Name != nil {
		acc.Name = *out.Account.Name
	}
	if out.Account.Email != nil {
		acc.Email = *out.Account.Email
	}
	return acc, nil
}
