package models

// Repository is an organization repository as listed by the forge
type Repository struct {
	Name            string `json:"name"`
	ContributorsURL string `json:"contributors_url"`
}

// ContributorRef is a contributor identity from a repository's contributor list
type ContributorRef struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// UserProfile is a user's public profile. Name is nil when the user has no display name.
type UserProfile struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name"`
}

// DisplayName returns the profile name, falling back to the login when absent or empty
func (p *UserProfile) DisplayName(fallback string) string {
	if p == nil || p.Name == nil || *p.Name == "" {
		return fallback
	}
	return *p.Name
}

// AggregatedContributor is one record of the output file. Field order is the wire order.
type AggregatedContributor struct {
	ID    int64  `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Login string `json:"login" yaml:"login"`
}
