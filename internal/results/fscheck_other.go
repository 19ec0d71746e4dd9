//go:build !darwin && !linux

package results

func detectFilesystemType(path string) (string, error) {
	return "", errDetectionUnsupported
}
