package verification

// Stage names a step of the Store or Verify pipeline.
type Stage string

// Store pipeline stages, in order.
const (
	StageValidating        Stage = "validating"
	StageLocking           Stage = "locking"
	StageCheckingDuplicate Stage = "checking_duplicate"
	StageHashing           Stage = "hashing"
	StageUploading         Stage = "uploading"
	StageRecording         Stage = "recording"
)

// Verify pipeline stages, in order.
const (
	StageFetchingLedger  Stage = "fetching_ledger"
	StageDownloadingBlob Stage = "downloading_blob"
	StageRehashing       Stage = "rehashing"
	StageComparing       Stage = "comparing"
)

// StageDone marks a completed pipeline.
const StageDone Stage = "done"

func (s Stage) String() string {
	return string(s)
}
