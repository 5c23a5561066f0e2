package domain

// MediaStream describes a remote stream received over a peer connection.
type MediaStream struct {
	ID     string
	Tracks []Track
}

type Track struct {
	ID   string
	Kind string
}
