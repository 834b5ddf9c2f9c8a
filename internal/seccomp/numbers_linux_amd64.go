package seccomp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// syscallNumbers maps allow-listed syscall names to their x86-64 numbers.
// Only syscalls that can appear in a profile need entries here.
var syscallNumbers = map[string]int64{
	"read":              unix.SYS_READ,
	"write":             unix.SYS_WRITE,
	"exit":              unix.SYS_EXIT,
	"exit_group":        unix.SYS_EXIT_GROUP,
	"mmap":              unix.SYS_MMAP,
	"munmap":            unix.SYS_MUNMAP,
	"mprotect":          unix.SYS_MPROTECT,
	"brk":               unix.SYS_BRK,
	"fstat":             unix.SYS_FSTAT,
	"stat":              unix.SYS_STAT,
	"lseek":             unix.SYS_LSEEK,
	"close":             unix.SYS_CLOSE,
	"rt_sigreturn":      unix.SYS_RT_SIGRETURN,
	"openat":            unix.SYS_OPENAT,
	"close_range":       unix.SYS_CLOSE_RANGE,
	"dup":               unix.SYS_DUP,
	"dup3":              unix.SYS_DUP3,
	"fcntl":             unix.SYS_FCNTL,
	"pipe2":             unix.SYS_PIPE2,
	"readv":             unix.SYS_READV,
	"writev":            unix.SYS_WRITEV,
	"pread64":           unix.SYS_PREAD64,
	"pwrite64":          unix.SYS_PWRITE64,
	"getdents64":        unix.SYS_GETDENTS64,
	"newfstatat":        unix.SYS_NEWFSTATAT,
	"statx":             unix.SYS_STATX,
	"faccessat":         unix.SYS_FACCESSAT,
	"ppoll":             unix.SYS_PPOLL,
	"pselect6":          unix.SYS_PSELECT6,
	"epoll_create1":     unix.SYS_EPOLL_CREATE1,
	"epoll_ctl":         unix.SYS_EPOLL_CTL,
	"epoll_pwait":       unix.SYS_EPOLL_PWAIT,
	"eventfd2":          unix.SYS_EVENTFD2,
	"timerfd_create":    unix.SYS_TIMERFD_CREATE,
	"timerfd_settime":   unix.SYS_TIMERFD_SETTIME,
	"timerfd_gettime":   unix.SYS_TIMERFD_GETTIME,
	"nanosleep":         unix.SYS_NANOSLEEP,
	"clock_gettime":     unix.SYS_CLOCK_GETTIME,
	"clock_nanosleep":   unix.SYS_CLOCK_NANOSLEEP,
	"clock_getres":      unix.SYS_CLOCK_GETRES,
	"gettimeofday":      unix.SYS_GETTIMEOFDAY,
	"getrandom":         unix.SYS_GETRANDOM,
	"futex":             unix.SYS_FUTEX,
	"sched_yield":       unix.SYS_SCHED_YIELD,
	"madvise":           unix.SYS_MADVISE,
	"open":              unix.SYS_OPEN,
	"creat":             unix.SYS_CREAT,
	"access":            unix.SYS_ACCESS,
	"readlink":          unix.SYS_READLINK,
	"readlinkat":        unix.SYS_READLINKAT,
	"lstat":             unix.SYS_LSTAT,
	"poll":              unix.SYS_POLL,
	"select":            unix.SYS_SELECT,
	"dup2":              unix.SYS_DUP2,
	"pipe":              unix.SYS_PIPE,
	"epoll_create":      unix.SYS_EPOLL_CREATE,
	"epoll_wait":        unix.SYS_EPOLL_WAIT,
	"rt_sigaction":      unix.SYS_RT_SIGACTION,
	"rt_sigprocmask":    unix.SYS_RT_SIGPROCMASK,
	"rt_sigpending":     unix.SYS_RT_SIGPENDING,
	"rt_sigtimedwait":   unix.SYS_RT_SIGTIMEDWAIT,
	"rt_sigsuspend":     unix.SYS_RT_SIGSUSPEND,
	"sigaltstack":       unix.SYS_SIGALTSTACK,
	"alarm":             unix.SYS_ALARM,
	"pause":             unix.SYS_PAUSE,
	"getitimer":         unix.SYS_GETITIMER,
	"setitimer":         unix.SYS_SETITIMER,
	"timer_create":      unix.SYS_TIMER_CREATE,
	"timer_settime":     unix.SYS_TIMER_SETTIME,
	"timer_gettime":     unix.SYS_TIMER_GETTIME,
	"timer_getoverrun":  unix.SYS_TIMER_GETOVERRUN,
	"timer_delete":      unix.SYS_TIMER_DELETE,
	"getpid":            unix.SYS_GETPID,
	"gettid":            unix.SYS_GETTID,
	"getppid":           unix.SYS_GETPPID,
	"getpgid":           unix.SYS_GETPGID,
	"getpgrp":           unix.SYS_GETPGRP,
	"getsid":            unix.SYS_GETSID,
	"getuid":            unix.SYS_GETUID,
	"geteuid":           unix.SYS_GETEUID,
	"getgid":            unix.SYS_GETGID,
	"getegid":           unix.SYS_GETEGID,
	"getgroups":         unix.SYS_GETGROUPS,
	"getcwd":            unix.SYS_GETCWD,
	"chdir":             unix.SYS_CHDIR,
	"fchdir":            unix.SYS_FCHDIR,
	"mkdir":             unix.SYS_MKDIR,
	"mkdirat":           unix.SYS_MKDIRAT,
	"rmdir":             unix.SYS_RMDIR,
	"rename":            unix.SYS_RENAME,
	"renameat2":         unix.SYS_RENAMEAT2,
	"unlink":            unix.SYS_UNLINK,
	"unlinkat":          unix.SYS_UNLINKAT,
	"link":              unix.SYS_LINK,
	"linkat":            unix.SYS_LINKAT,
	"symlink":           unix.SYS_SYMLINK,
	"symlinkat":         unix.SYS_SYMLINKAT,
	"chmod":             unix.SYS_CHMOD,
	"fchmod":            unix.SYS_FCHMOD,
	"fchmodat":          unix.SYS_FCHMODAT,
	"umask":             unix.SYS_UMASK,
	"truncate":          unix.SYS_TRUNCATE,
	"ftruncate":         unix.SYS_FTRUNCATE,
	"fallocate":         unix.SYS_FALLOCATE,
	"fsync":             unix.SYS_FSYNC,
	"fdatasync":         unix.SYS_FDATASYNC,
	"sync":              unix.SYS_SYNC,
	"syncfs":            unix.SYS_SYNCFS,
	"flock":             unix.SYS_FLOCK,
	"sendfile":          unix.SYS_SENDFILE,
	"copy_file_range":   unix.SYS_COPY_FILE_RANGE,
	"splice":            unix.SYS_SPLICE,
	"tee":               unix.SYS_TEE,
	"utimensat":         unix.SYS_UTIMENSAT,
	"mremap":            unix.SYS_MREMAP,
	"mlock":             unix.SYS_MLOCK,
	"munlock":           unix.SYS_MUNLOCK,
	"msync":             unix.SYS_MSYNC,
	"mincore":           unix.SYS_MINCORE,
	"membarrier":        unix.SYS_MEMBARRIER,
	"rseq":              unix.SYS_RSEQ,
	"set_tid_address":   unix.SYS_SET_TID_ADDRESS,
	"set_robust_list":   unix.SYS_SET_ROBUST_LIST,
	"get_robust_list":   unix.SYS_GET_ROBUST_LIST,
	"getrusage":         unix.SYS_GETRUSAGE,
	"getrlimit":         unix.SYS_GETRLIMIT,
	"prlimit64":         unix.SYS_PRLIMIT64,
	"times":             unix.SYS_TIMES,
	"sysinfo":           unix.SYS_SYSINFO,
	"uname":             unix.SYS_UNAME,
	"sched_getaffinity": unix.SYS_SCHED_GETAFFINITY,
	"getpriority":       unix.SYS_GETPRIORITY,
	"ioprio_get":        unix.SYS_IOPRIO_GET,
}

func syscallNumber(name string) (int64, error) {
	nr, ok := syscallNumbers[name]
	if !ok {
		return 0, fmt.Errorf("no x86-64 number for syscall %q", name)
	}
	return nr, nil
}
