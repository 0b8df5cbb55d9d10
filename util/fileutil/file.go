package fileutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/option/content"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

// ReadFileBytes reads the whole file. An error closing it is returned too.
func ReadFileBytes(filename string) ([]byte, error) {
	file, err := fileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	return readAllAndClose(file)
}

func readAllAndClose(file io.ReadCloser) (data []byte, err error) {
	defer func(file io.Closer) {
		err = errors.Join(err, CloseFile(file))
	}(file)

	buf := &bytes.Buffer{}
	if _, err = io.Copy(buf, file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func CloseFile(file io.Closer) error {
	return file.Close()
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

func OpenFile(filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(context.Background(), filename)
}

// ReadLine returns a single line (without the ending \n)
// from the input buffered reader.
// This function is needed to avoid the 65K char line limit.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}

// ReadLines reads every non-empty line of a file, trimmed of surrounding whitespace.
func ReadLines(filename string) ([]string, error) {
	file, err := OpenFile(filename)
	if err != nil {
		return nil, err
	}
	return readLinesAndClose(file)
}

func readLinesAndClose(file io.ReadCloser) (lines []string, err error) {
	defer func(file io.Closer) {
		err = errors.Join(err, CloseFile(file))
	}(file)

	reader := bufio.NewReader(file)
	for {
		line, readErr := ReadLine(reader)
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			lines = append(lines, trimmed)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	return lines, nil
}

// PathJoinSafe wrapper around filepath.Join to ensure that paths are correctly constructed
// if the path is a normal OS path, just use filepath.Join
// if the path is S3, trim any trailing slashes and construct it manually from the components
// so that double slashes (e.g. s3://) are preserved.
func PathJoinSafe(elem ...string) string {
	var path string

	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		path = basePath + string(filepath.Separator) + filepath.Join(elem[1:]...)
	default:
		path = filepath.Join(elem...)
	}
	return path
}

func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return fileSystem.Walk
}

// IsDir reports whether path points to a directory (or an S3 prefix).
func IsDir(path string) (bool, error) {
	object, err := fileSystem.Object(context.Background(), path)
	if err != nil {
		return false, err
	}
	return object.IsDir(), nil
}

// ListFiles returns the files under root whose extension is one of extensions
// (case-insensitive), sorted by path. A root that is itself a file is returned as is.
func ListFiles(ctx context.Context, root string, extensions ...string) ([]string, error) {
	isDir, err := IsDir(root)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return []string{root}, nil
	}

	wanted := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		wanted[strings.ToLower(ext)] = true
	}

	var files []string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if info.IsDir() {
			return true, nil
		}
		if len(wanted) == 0 || wanted[strings.ToLower(filepath.Ext(info.Name()))] {
			files = append(files, PathJoinSafe(root, parent, info.Name()))
		}
		return true, nil
	}
	if err = fileSystem.Walk(ctx, root, walker); err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

func NewFileWriter(filename string, contentType string) (io.WriteCloser, error) {
	exists, err := FileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		err = fileSystem.Delete(context.Background(), filename)
		if err != nil {
			return nil, err
		}
	}
	if contentType != "" {
		return fileSystem.NewWriter(context.Background(), filename, 0o644, content.NewMeta(content.Type, contentType), option.NewSkipChecksum(true))
	}
	return fileSystem.NewWriter(context.Background(), filename, 0o644, option.NewSkipChecksum(true))
}

// WriteFile replaces filename with data.
func WriteFile(filename string, data []byte, contentType string) (err error) {
	writer, err := NewFileWriter(filename, contentType)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()
	_, err = writer.Write(data)
	return err
}
