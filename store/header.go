package store

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// StoreVersion is stored in the header to indicate how to interpret the
// segment files.
const StoreVersion = 1

const headerName = "packetstore.info"

// Header describes the store. It is written once when the store is created.
type Header struct {
	// A version number in case the format changes.
	Version int
	// Size a data file reaches before the next segment is started.
	MaxFileSize uint32
	// Whether packets are snappy-compressed.
	Compress bool
}

func newHeader(maxFileSize uint32, compress bool) Header {
	return Header{
		Version:     StoreVersion,
		MaxFileSize: maxFileSize,
		Compress:    compress,
	}
}

func headerPath(dir string) string {
	return filepath.Join(dir, headerName)
}

// ReadHeader reads the header of the store in dir.
func ReadHeader(dir string) (Header, error) {
	return readHeader(headerPath(dir))
}

func readHeader(filePath string) (Header, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Header{}, err
	}

	var header Header
	err = json.Unmarshal(data, &header)
	if err != nil {
		return Header{}, err
	}

	return header, nil
}

func writeHeader(headerPath string, header Header) error {
	data, err := json.Marshal(&header)
	if err != nil {
		return err
	}

	return os.WriteFile(headerPath, data, 0o666)
}
