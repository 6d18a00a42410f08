package storage

import (
	"fmt"
	"path"
)

// Directory names under the submit root. The layout is
// <project>/shots/<shot>/jobs/<job>/ with the job's pipeline artifacts in
// output/ and the shot's shared inputs (photos, audio) beside jobs/.
const (
	shotsDir  = "shots"
	jobsDir   = "jobs"
	outputDir = "output"
	frameDir  = "frame"
	photosDir = "photos"

	// JobSheetName is the submission parameter sheet inside a job folder.
	JobSheetName = "job.yml"
	// CaliArchiveName is the calibration archive the initialize stage
	// leaves inside the job folder.
	CaliArchiveName = "cali_archive.zip"
	// AudioFileName is the shot recording's audio track.
	AudioFileName = "audio.wav"
	// ExportRollName is the packed roll the export stage leaves in output/.
	ExportRollName = "export.4dr"
)

// ProjectRel returns the project folder, relative to the submit root.
func ProjectRel(projectFolder string) string {
	return projectFolder
}

// ShotRel returns a shot folder.
func ShotRel(projectFolder, shotFolder string) string {
	return path.Join(projectFolder, shotsDir, shotFolder)
}

// JobRel returns a job folder.
func JobRel(projectFolder, shotFolder, jobFolder string) string {
	return path.Join(ShotRel(projectFolder, shotFolder), jobsDir, jobFolder)
}

// JobsRel returns the folder holding a shot's jobs.
func JobsRel(shotRel string) string {
	return path.Join(shotRel, jobsDir)
}

// JobSheetRel returns the submission sheet of a job.
func JobSheetRel(jobRel string) string {
	return path.Join(jobRel, JobSheetName)
}

// CaliArchiveRel returns the calibration archive of a job.
func CaliArchiveRel(jobRel string) string {
	return path.Join(jobRel, CaliArchiveName)
}

// OutputRel returns the output folder of a job.
func OutputRel(jobRel string) string {
	return path.Join(jobRel, outputDir)
}

// FrameRecordRel returns the frame record for one farm-numbered frame.
func FrameRecordRel(jobRel string, frame int) string {
	return path.Join(jobRel, outputDir, frameDir, fmt.Sprintf("%04d.frame-record", frame))
}

// FrameRecordDirRel returns the folder holding a job's frame records.
func FrameRecordDirRel(jobRel string) string {
	return path.Join(jobRel, outputDir, frameDir)
}

// JobAudioRel returns the trimmed audio inside a job's output.
func JobAudioRel(jobRel string) string {
	return path.Join(jobRel, outputDir, AudioFileName)
}

// ExportRollRel returns the packed roll inside a job's output.
func ExportRollRel(jobRel string) string {
	return path.Join(jobRel, outputDir, ExportRollName)
}

// ShotAudioRel returns the shot's recorded audio track.
func ShotAudioRel(shotRel string) string {
	return path.Join(shotRel, AudioFileName)
}

// ShotPhotosRel returns the photo root of a shot, holding one folder per
// camera. Resolve stages enumerate cameras by listing it.
func ShotPhotosRel(shotRel string) string {
	return path.Join(shotRel, photosDir)
}

// PhotosRel returns the folder slaves publish one camera's frames into.
func PhotosRel(shotRel, cameraID string) string {
	return path.Join(shotRel, photosDir, cameraID)
}

// PhotoRel returns one published frame JPEG.
func PhotoRel(shotRel, cameraID string, frame int) string {
	return path.Join(PhotosRel(shotRel, cameraID), fmt.Sprintf("%04d.jpg", frame))
}
