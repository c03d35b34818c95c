package domain

// FileStatus records whether a part's bytes reached disk in full.
type FileStatus string

const (
	StatusComplete  FileStatus = "complete"
	StatusTruncated FileStatus = "truncated"
)

// StoredFile describes one part written under the storage root.
type StoredFile struct {
	Name   string     `json:"name"`
	Path   string     `json:"-"`
	Size   int64      `json:"size"`
	Status FileStatus `json:"-"`
}

// UploadOutcome summarizes a single upload request. Files holds only parts
// whose writes completed; Err is the first failure, if any.
type UploadOutcome struct {
	Files []StoredFile
	Err   *UploadError
}

func (o UploadOutcome) Count() int {
	return len(o.Files)
}

func (o UploadOutcome) Bytes() int64 {
	var n int64
	for _, f := range o.Files {
		n += f.Size
	}
	return n
}

func (o UploadOutcome) Names() []string {
	names := make([]string, 0, len(o.Files))
	for _, f := range o.Files {
		names = append(names, f.Name)
	}
	return names
}
