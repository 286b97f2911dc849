package biz

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ChecksumSHA256 流式计算文件的 SHA-256 摘要
func ChecksumSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DetectMime 按内容探测 MIME 类型
func DetectMime(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

// FileInfo 收集文件的基础属性
func FileInfo(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"size":     info.Size(),
		"modified": info.ModTime().UTC(),
	}, nil
}

type exifCollector struct {
	fields map[string]string
}

func (c *exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.fields[string(name)] = strings.Trim(tag.String(), `"`)
	return nil
}

// ExtractExif 提取图片的 EXIF 信息,非图片或无 EXIF 时返回空
func ExtractExif(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		// 无 EXIF 不是解析失败
		return nil, nil
	}
	c := &exifCollector{fields: map[string]string{}}
	if err := x.Walk(c); err != nil {
		return nil, nil
	}
	return c.fields, nil
}
