// Package aflforksrv is one concrete harness.Target: it drives an
// AFL-instrumented binary over AFL's fork-server protocol, the same way
// the teacher's put_afl.go does. Adapted here from a pool of N
// CPU-pinned worker threads (the teacher's model, one forked PUT per
// thread) down to a single Target instance, because spec.md §5 requires
// the core's hot path to be single-threaded and cooperative — only the
// harness itself may spawn threads internally, not the fuzz loop.
package aflforksrv

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hemipt-dev/hemipt/internal/covmap"
	"github.com/hemipt-dev/hemipt/internal/harness"
	"github.com/hemipt-dev/hemipt/internal/herrors"
)

const (
	mapSize = 1 << 16

	ipcPrivate = 0
	ipcCreat   = 0x200
	ipcExcl    = 0x400
	ipcRmid    = 0

	forksrvFd = 198

	// Memory Sanitizer configuration usage, from AFL:
	// "MSAN is tricky, because it doesn't support abort_on_error=1 at
	// this point. So, we do this in a very hacky way."
	msanError = 86

	shmEnvVar        = "__AFL_SHM_ID"
	persistentEnvVar = "__AFL_PERSISTENT"
	deferEnvVar      = "__AFL_DEFER_FORKSRV"
	asanVar          = "ASAN_OPTIONS"
	msanVar          = "MSAN_OPTIONS"

	persistentSig = "##SIG_AFL_PERSISTENT##"
	deferSig      = "##SIG_AFL_DEFER_FORKSRV##"
	asanDetect    = "libasan.so"
	msanDetect    = "__msan_init"
)

// Target drives one AFL-instrumented binary via the fork-server protocol.
type Target struct {
	trace []byte

	writer putWriter

	pid               int
	shmID             uintptr
	usesMsan          bool
	ctlPipeW, stPipeR *os.File

	workDir string
	cpu     int
}

// Options configures a new Target.
type Options struct {
	// WorkDir holds the scratch input file used to feed the PUT (stdin
	// or @@-style file argument). Defaults to os.TempDir().
	WorkDir string
	// PinCPU, if true, locks the calling OS thread and the forked PUT to
	// one CPU, avoiding hyperthread siblings (spec.md §5 does not require
	// this, but determinism benefits from it, per the teacher's
	// put_afl.go rationale).
	PinCPU bool
}

// New starts binPath under the fork server protocol, ready to accept
// trials via Run.
func New(binPath string, cliArgs []string, opts Options) (*Target, error) {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if _, err := os.Stat(binPath); os.IsNotExist(err) {
		return nil, &herrors.GuidanceError{Op: "stat target binary", Err: err}
	}

	t := &Target{workDir: opts.WorkDir, cpu: -1}

	fileIn, args, fileArg, filePathPos := parseArgs(cliArgs)
	var files []uintptr
	var err error
	if fileIn {
		cliArgs = args
		t.writer, files, err = makeFilePUTWriter(opts.WorkDir, args, fileArg, filePathPos)
	} else {
		t.writer, files, err = makeStdinPUTWriter(opts.WorkDir)
	}
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "prepare PUT writer", Err: err}
	}

	shmID, trace, err := setupShm()
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "setup shared memory", Err: err}
	}
	t.trace, t.shmID = trace, shmID

	env := os.Environ()
	extraEnv, usesMsan, err := getExtraEnvs(binPath, shmID)
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "inspect target binary", Err: err}
	}
	t.usesMsan = usesMsan
	env = append(env, extraEnv...)

	if opts.PinCPU {
		cpu, err := lockToFreeCPU()
		if err == nil {
			t.cpu = cpu
		}
	}

	procAttr := &syscall.ProcAttr{
		Env:   env,
		Files: files,
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	ctlPipeW, stPipeR, pid, err := initForkserver(binPath, cliArgs, procAttr)
	if err != nil {
		return nil, &herrors.GuidanceError{Op: "start fork server", Err: err}
	}
	t.ctlPipeW, t.stPipeR, t.pid = ctlPipeW, stPipeR, pid

	return t, nil
}

var helloChildS = []byte{0, 0, 0, 0}

// Run executes one trial: write input to the PUT, signal the fork server,
// and wait (up to timeout) for a status.
func (t *Target) Run(input []byte, timeout time.Duration) (harness.RunResult, error) {
	zeroShm(t.trace)

	if len(input) > 0 {
		if _, err := t.writer.Write(input); err != nil {
			return harness.RunResult{}, &herrors.GuidanceError{Op: "write testcase", Err: err}
		}
	}

	if _, err := t.ctlPipeW.Write(helloChildS); err != nil {
		return harness.RunResult{}, &herrors.GuidanceError{Op: "signal fork server", Err: err}
	}
	encodedWorkpid := make([]byte, 4)
	if _, err := t.stPipeR.Read(encodedWorkpid); err != nil {
		return harness.RunResult{}, &herrors.GuidanceError{Op: "read child pid", Err: err}
	}
	pid := int(binary.LittleEndian.Uint32(encodedWorkpid))

	start := time.Now()
	encodedStatus := make([]byte, 4)
	reportChan := make(chan error, 1)
	timer := time.NewTimer(timeout)
	go func() {
		_, err := t.stPipeR.Read(encodedStatus)
		reportChan <- err
	}()

	result := harness.RunResult{}
	select {
	case err := <-reportChan:
		timer.Stop()
		if err != nil {
			return harness.RunResult{}, &herrors.GuidanceError{Op: "read status", Err: err}
		}
	case <-timer.C:
		if p, err := os.FindProcess(pid); err == nil {
			_ = p.Kill()
		}
		result.TimedOut = true
	}
	result.ExecutionTime = time.Since(start)

	trace := covmap.New()
	for id, v := range t.trace {
		if v == 0 {
			continue
		}
		for i := 0; i < int(v); i++ {
			trace.Increment(uint32(id))
		}
	}
	result.Trace = trace

	if result.TimedOut {
		result.Outcome = harness.Failure
		result.Err = fmt.Errorf("trial exceeded runTimeout of %s", timeout)
		return result, nil
	}

	status := binary.LittleEndian.Uint32(encodedStatus)
	stat := syscall.WaitStatus(status)
	switch {
	case stat.Signaled():
		result.Outcome = harness.Failure
		result.Err = fmt.Errorf("target killed by signal %v", stat.Signal())
	case t.usesMsan && stat.ExitStatus() == msanError:
		result.Outcome = harness.Failure
		result.Err = fmt.Errorf("memory sanitizer error (exit code %d)", msanError)
	default:
		result.Outcome = harness.Success
	}

	return result, nil
}

// Close tears down the fork server and releases shared memory.
func (t *Target) Close() error {
	killAllChildren(t.pid)
	if proc, err := os.FindProcess(t.pid); err == nil {
		_ = proc.Kill()
	}
	_ = closeShm(t.shmID)
	return t.writer.Close()
}

// *****************************************************************************
// PUT argument / I/O plumbing (adapted from put_afl.go).

func parseArgs(cliArgs []string) (fileIn bool, args []string, fileArg int, filePathPos [2]int) {
	args = make([]string, len(cliArgs))
	copy(args, cliArgs)

	re := regexp.MustCompile(`(@*)+@@`)
	for i, a := range args {
		res := re.FindAllStringIndex(a, -1)
		if len(res) == 0 {
			continue
		}
		fileIn = true
		fileArg = i
		pos := res[len(res)-1]
		filePathPos[1] = pos[1]
		filePathPos[0] = filePathPos[1] - 2
		return
	}
	return
}

type putWriter interface {
	Write(tc []byte) (int, error)
	Close() error
}

var devNullOnce sync.Once
var devNull *os.File

func sharedDevNull() (*os.File, error) {
	var err error
	devNullOnce.Do(func() {
		devNull, err = os.OpenFile(os.DevNull, os.O_RDWR, 0o666)
	})
	return devNull, err
}

type fileIO struct{ path string }

func (fio fileIO) Write(tc []byte) (int, error) {
	_ = os.Remove(fio.path)
	f, err := os.OpenFile(fio.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(tc)
	if err != nil {
		return n, err
	}
	return n, f.Close()
}
func (fio fileIO) Close() error { return nil }

func makeFilePUTWriter(workDir string, args []string, fileArg int, filePathPos [2]int) (putWriter, []uintptr, error) {
	devNull, err := sharedDevNull()
	if err != nil {
		return nil, nil, err
	}

	fileInName := filepath.Join(workDir, fmt.Sprintf("tmp-%x", rand.Int63()))
	pw := fileIO{path: fileInName}
	files := []uintptr{devNull.Fd(), devNull.Fd(), devNull.Fd()}

	var newArg []byte
	arg := args[fileArg]
	if filePathPos[0] > 0 {
		newArg = []byte(arg[:filePathPos[0]])
	}
	newArg = append(newArg, []byte(fileInName)...)
	if filePathPos[1] != len(arg) {
		newArg = append(newArg, []byte(arg[filePathPos[1]:])...)
	}
	args[fileArg] = string(newArg)

	return pw, files, nil
}

type stdinIO struct{ *os.File }

func (sio stdinIO) Write(tc []byte) (int, error) {
	if _, err := sio.File.Seek(0, os.SEEK_SET); err != nil {
		return 0, err
	}
	n, err := sio.File.Write(tc)
	if err != nil {
		return n, err
	}
	if err := sio.File.Truncate(int64(n)); err != nil {
		return n, err
	}
	_, err = sio.File.Seek(0, os.SEEK_SET)
	return n, err
}
func (sio stdinIO) Close() error {
	name := sio.Name()
	_ = sio.File.Close()
	return os.Remove(name)
}

func makeStdinPUTWriter(workDir string) (putWriter, []uintptr, error) {
	devNull, err := sharedDevNull()
	if err != nil {
		return nil, nil, err
	}
	fileInName := filepath.Join(workDir, fmt.Sprintf("tmp-%x", rand.Int63()))
	// Needs the raw syscall because os.OpenFile sets O_CLOEXEC, which
	// would hide the fd from the forked child.
	fd, err := syscall.Open(fileInName, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, nil, err
	}
	f := os.NewFile(uintptr(fd), fileInName)
	return stdinIO{File: f}, []uintptr{f.Fd(), devNull.Fd(), devNull.Fd()}, nil
}

// *****************************************************************************
// Shared memory.

func setupShm() (uintptr, []byte, error) {
	id, _, errno := syscall.RawSyscall(syscall.SYS_SHMGET, ipcPrivate, mapSize, ipcCreat|ipcExcl|0o600)
	if errno != 0 {
		return 0, nil, fmt.Errorf("shmget: %v", errno)
	}
	segMap, _, errno := syscall.RawSyscall(syscall.SYS_SHMAT, id, 0, 0)
	if errno != 0 {
		return 0, nil, fmt.Errorf("shmat: %v", errno)
	}
	traceBitPt := (*[mapSize]byte)(unsafe.Pointer(segMap))
	return id, (*traceBitPt)[:], nil
}

func closeShm(id uintptr) error {
	_, _, errno := syscall.RawSyscall(syscall.SYS_SHMCTL, id, ipcRmid, 0)
	if errno != 0 {
		return fmt.Errorf("shmctl: %v", errno)
	}
	return nil
}

func zeroShm(trace []byte) {
	for i := range trace {
		trace[i] = 0
	}
}

// *****************************************************************************
// Target binary introspection & sanitizer env wiring.

func getExtraEnvs(binPath string, shmID uintptr) (envs []string, usesMsan bool, err error) {
	binContent, err := ioutil.ReadFile(binPath)
	if err != nil {
		return nil, false, err
	}

	if !regexp.MustCompile(shmEnvVar).Match(binContent) {
		return nil, false, fmt.Errorf("binary %s was not instrumented for shared-memory coverage", binPath)
	}
	envs = append(envs, fmt.Sprintf("%s=%d", shmEnvVar, shmID))

	if regexp.MustCompile(persistentSig).Match(binContent) {
		envs = append(envs, fmt.Sprintf("%s=1", persistentEnvVar))
	}
	if regexp.MustCompile(deferSig).Match(binContent) {
		envs = append(envs, fmt.Sprintf("%s=1", deferEnvVar))
	}

	isAsan := regexp.MustCompile(asanDetect).Match(binContent)
	isMsan := regexp.MustCompile(msanDetect).Match(binContent)
	if !isAsan && !isMsan {
		return envs, false, nil
	}
	if isMsan {
		usesMsan = true
	}

	if asanOps, ok := os.LookupEnv(asanVar); ok {
		if !regexp.MustCompile("abort_on_error=1").MatchString(asanOps) ||
			!regexp.MustCompile("symbolize=0").MatchString(asanOps) {
			return nil, false, fmt.Errorf("custom ASAN_OPTIONS set without abort_on_error=1 and symbolize=0")
		}
	} else {
		envs = append(envs, fmt.Sprintf("%s=abort_on_error=1:detect_leaks=0:"+
			"symbolize=0:allocator_may_return_null=1", asanVar))
	}

	ec := fmt.Sprintf("exit_code=%d", msanError)
	if msanOps, ok := os.LookupEnv(msanVar); ok {
		if !regexp.MustCompile(ec).MatchString(msanOps) ||
			!regexp.MustCompile("symbolize=0").MatchString(msanOps) {
			return nil, false, fmt.Errorf("custom MSAN_OPTIONS set without %s and symbolize=0", ec)
		}
	} else {
		envs = append(envs, fmt.Sprintf("%s=%s:symbolize=0:abort_on_error=1:"+
			"allocator_may_return_null=1:msan_track_origins=0", msanVar, ec))
	}

	return envs, usesMsan, nil
}

// *****************************************************************************
// Fork server handshake.

func initForkserver(binPath string, cliArgs []string, procAttr *syscall.ProcAttr) (
	ctlPipeW, stPipeR *os.File, pid int, err error) {

	var ctlPipe, stPipe [2]int
	if err := syscall.Pipe(ctlPipe[0:]); err != nil {
		return nil, nil, 0, fmt.Errorf("ctl pipe: %w", err)
	}
	if err := syscall.Pipe(stPipe[0:]); err != nil {
		return nil, nil, 0, fmt.Errorf("status pipe: %w", err)
	}

	ctlPipeR, stPipeW := ctlPipe[0], stPipe[1]
	ctlPipeW = os.NewFile(uintptr(ctlPipe[1]), "|1")
	stPipeR = os.NewFile(uintptr(stPipe[0]), "|0")

	if err := syscall.Dup2(ctlPipeR, forksrvFd); err != nil {
		return nil, nil, 0, fmt.Errorf("dup2 ctl: %w", err)
	}
	if err := syscall.Dup2(stPipeW, forksrvFd+1); err != nil {
		return nil, nil, 0, fmt.Errorf("dup2 status: %w", err)
	}
	_ = syscall.Close(ctlPipeR)
	_ = syscall.Close(stPipeW)

	if _, _, errno := syscall.RawSyscall(syscall.SYS_FCNTL, ctlPipeW.Fd(), syscall.F_SETFD, syscall.FD_CLOEXEC); errno != 0 {
		return nil, nil, 0, fmt.Errorf("fcntl ctlPipeW: %v", errno)
	}
	if _, _, errno := syscall.RawSyscall(syscall.SYS_FCNTL, stPipeR.Fd(), syscall.F_SETFD, syscall.FD_CLOEXEC); errno != 0 {
		return nil, nil, 0, fmt.Errorf("fcntl stPipeR: %v", errno)
	}

	execArgs := append([]string{binPath}, cliArgs...)
	pid, err = syscall.ForkExec(binPath, execArgs, procAttr)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("forkexec: %w", err)
	}
	_ = syscall.Close(forksrvFd)
	_ = syscall.Close(forksrvFd + 1)

	timer := time.NewTimer(time.Second)
	encodedStatus := make([]byte, 4)
	reportChan := make(chan error, 1)
	go func() {
		_, err := stPipeR.Read(encodedStatus)
		reportChan <- err
	}()
	select {
	case err = <-reportChan:
		timer.Stop()
	case <-timer.C:
		return nil, nil, 0, fmt.Errorf("fork server handshake timed out (pid=%d)", pid)
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fork server handshake: %w", err)
	}

	status := binary.LittleEndian.Uint32(encodedStatus)
	if syscall.WaitStatus(status).Signaled() {
		return nil, nil, 0, fmt.Errorf("fork server crashed during handshake")
	}

	return ctlPipeW, stPipeR, pid, nil
}

// *****************************************************************************
// Process teardown.

func killAllChildren(pid int) {
	for _, child := range listChildren(pid) {
		killAllChildren(child)
		if proc, err := os.FindProcess(child); err == nil {
			_ = proc.Kill()
		}
	}
}

func listChildren(pid int) (children []int) {
	pidStr := strconv.Itoa(pid)
	childrenPath := filepath.Join("/proc", pidStr, "task", pidStr, "children")
	data, err := ioutil.ReadFile(childrenPath)
	if err != nil {
		return nil
	}
	for _, field := range strings.Fields(string(data)) {
		if childPid, err := strconv.Atoi(field); err == nil {
			children = append(children, childPid)
		}
	}
	return children
}

// *****************************************************************************
// CPU affinity: pin the single cooperative fuzz-loop thread, skipping
// hyperthread siblings (odd-numbered CPUs), mirroring put_afl.go's
// getUnusedCPUs/lockRoutine but for exactly one caller instead of N.

var cpuMu sync.Mutex

func lockToFreeCPU() (int, error) {
	cpuMu.Lock()
	defer cpuMu.Unlock()

	runtime.LockOSThread()

	nbCPU := runtime.NumCPU()
	candidate := -1
	for cpu := 0; cpu < nbCPU; cpu += 2 { // skip odd/hyperthread siblings
		if !cpuInUse(cpu) {
			candidate = cpu
			break
		}
	}
	if candidate < 0 {
		return -1, fmt.Errorf("no free CPU available")
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(candidate)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return -1, err
	}
	return candidate, nil
}

func cpuInUse(cpu int) bool {
	procDir, err := ioutil.ReadDir("/proc")
	if err != nil {
		return false
	}
	for _, info := range procDir {
		if !info.IsDir() {
			continue
		}
		name := info.Name()
		if name[0] < '0' || name[0] > '9' {
			continue
		}
		pid, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		var set unix.CPUSet
		set.Zero()
		if err := unix.SchedGetaffinity(pid, &set); err != nil {
			continue
		}
		if set.Count() == runtime.NumCPU() {
			continue // unpinned process, not a competitor for this CPU
		}
		if set.IsSet(cpu) {
			return true
		}
	}
	return false
}
