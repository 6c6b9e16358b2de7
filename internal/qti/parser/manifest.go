package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/openassess/qti-runtime/internal/qti"
)

// Manifest is the content inventory of an IMS package.
type Manifest struct {
	Resources []ManifestResource
}

type ManifestResource struct {
	Identifier string
	Href       string
	Type       string
	Files      []string
}

type imsManifest struct {
	XMLName   xml.Name      `xml:"manifest"`
	Resources []imsResource `xml:"resources>resource"`
}
type imsResource struct {
	Identifier string    `xml:"identifier,attr"`
	Href       string    `xml:"href,attr"`
	Type       string    `xml:"type,attr"`
	Files      []imsFile `xml:"file"`
}
type imsFile struct {
	Href string `xml:"href,attr"`
}

// UnzipToTemp extracts a packaged test to a temp dir and returns its base.
// The dir is removed again when extraction fails partway.
func UnzipToTemp(r io.ReaderAt, size int64) (string, error) {
	tmp, err := os.MkdirTemp("", "qti-*")
	if err != nil {
		return "", err
	}
	if err := extractZip(tmp, r, size); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}
	return tmp, nil
}

func extractZip(base string, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		// entry names come from the upload; anything that would resolve
		// outside the extraction dir is rejected, not sanitized
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return fmt.Errorf("unsafe path %q in package", f.Name)
		}
		dst := filepath.Join(base, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dst)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseManifest reads imsmanifest.xml under base and returns the inventory
// plus the hrefs that look like questestinterop documents.
func ParseManifest(base string) (Manifest, []string, error) {
	var mfPath string
	for _, p := range []string{"imsmanifest.xml", "manifest.xml"} {
		if _, err := os.Stat(filepath.Join(base, p)); err == nil {
			mfPath = filepath.Join(base, p)
			break
		}
	}
	if mfPath == "" {
		return Manifest{}, nil, fmt.Errorf("imsmanifest.xml not found")
	}

	b, err := os.ReadFile(mfPath)
	if err != nil {
		return Manifest{}, nil, err
	}
	var mf imsManifest
	if err := xml.Unmarshal(b, &mf); err != nil {
		return Manifest{}, nil, err
	}

	var out Manifest
	var tests []string
	for _, r := range mf.Resources {
		res := ManifestResource{Identifier: r.Identifier, Href: r.Href, Type: r.Type}
		for _, f := range r.Files {
			res.Files = append(res.Files, f.Href)
		}
		out.Resources = append(out.Resources, res)

		href := strings.ToLower(r.Href)
		typ := strings.ToLower(r.Type)
		if strings.Contains(typ, "qti") ||
			(strings.HasSuffix(href, ".xml") && !strings.Contains(href, "manifest")) {
			tests = append(tests, r.Href)
		}
	}
	return out, tests, nil
}

// ParsePackageDir finds and parses the assessment document of an unzipped
// package directory.
func ParsePackageDir(base string) (*qti.Assessment, error) {
	_, tests, err := ParseManifest(base)
	if err != nil {
		return nil, err
	}
	for _, rel := range tests {
		f, err := os.Open(filepath.Join(base, rel))
		if err != nil {
			continue
		}
		def, perr := ParseAssessment(f)
		f.Close()
		if perr == nil {
			return def, nil
		}
	}
	return nil, fmt.Errorf("no parsable questestinterop document in %s", base)
}
