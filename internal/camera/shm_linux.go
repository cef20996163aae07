//go:build linux && cgo

package camera

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

static SharedFrameBuffer* open_frame_shm(const char* name) {
    // RDWR is needed for sem_timedwait.
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

static void close_frame_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

// Returns 0 on a new frame, negative errno otherwise (-ETIMEDOUT on timeout).
static int wait_frame(SharedFrameBuffer* shm, int timeout_ms) {
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }
    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

static int read_latest_frame(SharedFrameBuffer* shm, Frame* out) {
    uint32_t write_idx = __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
    if (write_idx == 0) {
        return -1;
    }
    memcpy(out, &shm->frames[(write_idx - 1) % RING_BUFFER_SIZE], sizeof(Frame));
    return 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/pkg/types"
)

const (
	shmMaxFrameSize = 1920 * 1080 * 3 / 2
	shmWaitTimeout  = 200 * time.Millisecond
	etimedout       = 110
)

// SHMSource reads JPEG frames from the capture daemon's shared memory ring
// buffer. Frames already returned are skipped.
type SHMSource struct {
	mu        sync.Mutex
	shm       *C.SharedFrameBuffer
	name      string
	lastFrame uint64
	hasLast   bool
}

// NewSHMSource opens the named shared memory segment.
func NewSHMSource(name string) (Source, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	shm := C.open_frame_shm(cName)
	if shm == nil {
		return nil, fmt.Errorf("shared memory not available: %s", name)
	}
	logger.Info("Camera", "Opened shared memory %s", name)
	return &SHMSource{shm: shm, name: name}, nil
}

// Next implements Source.
func (s *SHMSource) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.shm == nil {
			return nil, ErrClosed
		}

		if rc := int(C.wait_frame(s.shm, C.int(shmWaitTimeout.Milliseconds()))); rc != 0 && -rc != etimedout {
			// Semaphore unusable; fall back to polling.
			time.Sleep(33 * time.Millisecond)
		}

		frame, ok := s.readLatest()
		if !ok {
			continue
		}
		if s.hasLast && frame.FrameNum == s.lastFrame {
			continue
		}
		s.lastFrame = frame.FrameNum
		s.hasLast = true

		if frame.Format != types.FormatJPEG {
			logger.Debug("Camera", "Skipping %s frame #%d", frame.Format, frame.FrameNum)
			continue
		}
		return frame, nil
	}
}

func (s *SHMSource) readLatest() (*types.Frame, bool) {
	var cFrame C.Frame
	if C.read_latest_frame(s.shm, &cFrame) != 0 {
		return nil, false
	}

	dataSize := int(cFrame.data_size)
	if dataSize <= 0 || dataSize > shmMaxFrameSize {
		return nil, false
	}

	data := make([]byte, dataSize)
	cData := (*[shmMaxFrameSize]byte)(unsafe.Pointer(&cFrame.data[0]))[:dataSize:dataSize]
	copy(data, cData)

	return &types.Frame{
		Data:      data,
		Format:    types.Format(cFrame.format),
		Timestamp: time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec)),
		FrameNum:  uint64(cFrame.frame_number),
		Width:     int(cFrame.width),
		Height:    int(cFrame.height),
	}, true
}

// Close implements Source.
func (s *SHMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shm != nil {
		C.close_frame_shm(s.shm)
		s.shm = nil
	}
	return nil
}
