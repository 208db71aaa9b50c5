package worker

import (
	"errors"
	"io"
)

// progressReader reports the running byte count after every read. offset
// seeds the count for resumed transfers.
type progressReader struct {
	reader   io.Reader
	size     int64
	offset   int64
	read     int64
	callback func(read int64)
}

func newProgressReader(r io.Reader, offset, size int64, callback func(read int64)) *progressReader {
	return &progressReader{
		reader:   r,
		size:     size,
		offset:   offset,
		read:     offset,
		callback: callback,
	}
}

// Read implements io.Reader.
func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)

	if n > 0 {
		pr.read += int64(n)
		pr.invokeCallback()
	}

	return
}

// Seek implements io.Seeker so retrying clients can rewind the body.
func (pr *progressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := pr.reader.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: underlying reader cannot seek")
	}

	n, err := seeker.Seek(offset, whence)
	if err == nil {
		pr.read = pr.offset + n
		pr.invokeCallback()
	}
	return n, err
}

// Len implements retryablehttp.LenReader.
func (pr *progressReader) Len() int {
	return int(pr.size)
}

func (pr *progressReader) invokeCallback() {
	if pr.callback != nil {
		pr.callback(pr.read)
	}
}
