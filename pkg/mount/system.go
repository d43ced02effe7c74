package mount

import (
	"os/exec"
	"strings"
	"syscall"

	"github.com/moby/sys/mountinfo"

	"github.com/luiz158/backup.sh/pkg/errors"
)

// osTable reads the kernel mount table.
type osTable struct{}

func (osTable) Mounted(path string) (bool, error) {
	return mountinfo.Mounted(path)
}

// execCommander shells out to mount(8) and umount(8). Both commands
// resolve the device and filesystem type from fstab.
type execCommander struct{}

func (execCommander) Mount(path string) error {
	return runCommand("mount", path)
}

func (execCommander) Unmount(path string) error {
	return runCommand("umount", path)
}

func (execCommander) Flush() {
	syscall.Sync()
}

func runCommand(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return errors.WithContext(errors.New(msg), name)
		}
		return errors.WithContext(err, name)
	}
	return nil
}
