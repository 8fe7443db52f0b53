package domain

// ArtifactPage is one fetched slice of the permanent artifact history.
// End-of-history is inferred from a short page; Total is informational only.
type ArtifactPage struct {
	Items    []Artifact
	Total    int
	Page     int
	PageSize int
}
