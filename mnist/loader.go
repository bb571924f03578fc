package mnist

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bondmcsteve/artificial-intelligence/img"
)

const (
	labelMagic = 0x801
	imageMagic = 0x803
	// upper bound on the number of samples in a file
	maxSamples = 1 << 20
)

type labelHeader struct{ Magic, Num uint32 }

type imageHeader struct{ Magic, Num, Height, Width uint32 }

// Loader fetches datasets into a local directory. Files are downloaded once and the decoded
// images are cached as gob encoded img.Data files.
type Loader struct {
	Dir     string
	Client  *http.Client
	BaseURL string // overrides the source URL if set
	Quiet   bool
}

// Load returns the train and test sets for the named dataset, downloading it to dir if required.
func Load(ctx context.Context, name, dir string) (train, test *img.Data, err error) {
	src, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	l := &Loader{Dir: dir}
	return l.Load(ctx, src)
}

func (l *Loader) logf(format string, args ...interface{}) {
	if !l.Quiet {
		fmt.Printf(format+"\n", args...)
	}
}

func (l *Loader) dir(src Source) string {
	return filepath.Join(l.Dir, src.Name)
}

// Load returns the train and test sets from the gob cache if present, else from the IDX files.
func (l *Loader) Load(ctx context.Context, src Source) (train, test *img.Data, err error) {
	trainCache := filepath.Join(l.dir(src), "train.gob")
	testCache := filepath.Join(l.dir(src), "test.gob")
	if train, err = readCache(trainCache); err == nil {
		if test, err = readCache(testCache); err == nil {
			l.logf("loaded %s: %d train and %d test images", src.Name, train.Len(), test.Len())
			return train, test, nil
		}
	}
	if err = l.Fetch(ctx, src); err != nil {
		return nil, nil, err
	}
	if train, err = l.readIDX(src, "train", src.TrainImages, src.TrainLabels); err != nil {
		return nil, nil, err
	}
	if test, err = l.readIDX(src, "test", src.TestImages, src.TestLabels); err != nil {
		return nil, nil, err
	}
	mean, std := img.GetStats(train, test)
	l.logf("%s: mean = %.3f stddev = %.3f", src.Name, mean, std)
	if err = writeCache(trainCache, train); err != nil {
		return nil, nil, err
	}
	if err = writeCache(testCache, test); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// Fetch downloads any missing files and verifies the checksums.
func (l *Loader) Fetch(ctx context.Context, src Source) error {
	if err := os.MkdirAll(l.dir(src), 0755); err != nil {
		return err
	}
	for _, f := range src.Files() {
		path := filepath.Join(l.dir(src), f.Name)
		if _, err := os.Stat(path); err == nil {
			if err = verify(path, f.SHA256); err != nil {
				return err
			}
			continue
		}
		if err := l.download(ctx, src, f); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) download(ctx context.Context, src Source, f File) error {
	base := src.BaseURL
	if l.BaseURL != "" {
		base = l.BaseURL
	}
	url := base + f.Name
	l.logf("downloading %s", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("error fetching %s: %s", url, resp.Status)
	}
	tmp, err := os.CreateTemp(l.dir(src), "."+f.Name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	h := sha256.New()
	if _, err = io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("error fetching %s: %w", url, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = checkSum(f.Name, h.Sum(nil), f.SHA256); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(l.dir(src), f.Name))
}

func verify(path, expect string) error {
	if expect == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return err
	}
	return checkSum(path, h.Sum(nil), expect)
}

func checkSum(name string, sum []byte, expect string) error {
	if expect != "" && hex.EncodeToString(sum) != expect {
		return fmt.Errorf("%w for %s: got %x", ErrChecksum, name, sum)
	}
	return nil
}

func (l *Loader) readIDX(src Source, name string, images, labels File) (*img.Data, error) {
	lab, err := readLabels(filepath.Join(l.dir(src), labels.Name))
	if err != nil {
		return nil, err
	}
	h, w, pix, err := readImages(filepath.Join(l.dir(src), images.Name))
	if err != nil {
		return nil, err
	}
	l.logf("read %d %dx%d images from %s", len(lab), w, h, images.Name)
	return img.NewData(src.Name+"_"+name, src.Classes, lab, h, w, pix)
}

func openGzip(path string, fn func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrFormat, path, err)
	}
	defer zr.Close()
	if err = fn(zr); err != nil {
		return fmt.Errorf("%w %s: %v", ErrFormat, path, err)
	}
	return nil
}

func readLabels(path string) (labels []int32, err error) {
	err = openGzip(path, func(r io.Reader) error {
		var head labelHeader
		if err := binary.Read(r, binary.BigEndian, &head); err != nil {
			return err
		}
		if head.Magic != labelMagic || head.Num > maxSamples {
			return fmt.Errorf("bad label header %+v", head)
		}
		buf := make([]byte, head.Num)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		labels = make([]int32, head.Num)
		for i, label := range buf {
			labels[i] = int32(label)
		}
		return nil
	})
	return labels, err
}

func readImages(path string) (height, width int, pix []uint8, err error) {
	err = openGzip(path, func(r io.Reader) error {
		var head imageHeader
		if err := binary.Read(r, binary.BigEndian, &head); err != nil {
			return err
		}
		if head.Magic != imageMagic || head.Num > maxSamples || head.Height == 0 || head.Height > 256 || head.Width == 0 || head.Width > 256 {
			return fmt.Errorf("bad image header %+v", head)
		}
		height, width = int(head.Height), int(head.Width)
		pix = make([]uint8, int(head.Num)*height*width)
		_, err := io.ReadFull(r, pix)
		return err
	})
	return height, width, pix, err
}

func readCache(path string) (*img.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d := new(img.Data)
	if err = d.Decode(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// write to a temp file and rename so a partial cache is never read
func writeCache(path string, d *img.Data) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err = d.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
