package seccomp

// Syscall allow-list tables, pinned by name. These tables are versioned
// constants: tests assert their exact sizes and the subset relation
// Minimal ⊂ Basic ⊂ Permissive, so membership changes are always a
// deliberate, reviewed edit.

// minimalSyscalls is the smallest tier: enough for a static binary to
// compute, touch pre-opened file descriptors, and exit.
var minimalSyscalls = []string{
	"read",
	"write",
	"exit",
	"exit_group",
	"mmap",
	"munmap",
	"mprotect",
	"brk",
	"fstat",
	"stat",
	"lseek",
	"close",
	"rt_sigreturn",
}

// basicExtras extends Minimal with file descriptor management, polling,
// and timing. Basic is the production default.
var basicExtras = []string{
	"openat",
	"close_range",
	"dup",
	"dup3",
	"fcntl",
	"pipe2",
	"readv",
	"writev",
	"pread64",
	"pwrite64",
	"getdents64",
	"newfstatat",
	"statx",
	"faccessat",
	"ppoll",
	"pselect6",
	"epoll_create1",
	"epoll_ctl",
	"epoll_pwait",
	"eventfd2",
	"timerfd_create",
	"timerfd_settime",
	"timerfd_gettime",
	"nanosleep",
	"clock_gettime",
	"clock_nanosleep",
	"clock_getres",
	"gettimeofday",
	"getrandom",
	"futex",
	"sched_yield",
	"madvise",
}

// permissiveExtras extends Basic for testing only. It admits legacy
// path-based syscalls, signal management, and process introspection —
// never process creation, privilege changes, or networking.
var permissiveExtras = []string{
	"open",
	"creat",
	"access",
	"readlink",
	"readlinkat",
	"lstat",
	"poll",
	"select",
	"dup2",
	"pipe",
	"epoll_create",
	"epoll_wait",
	"rt_sigaction",
	"rt_sigprocmask",
	"rt_sigpending",
	"rt_sigtimedwait",
	"rt_sigsuspend",
	"sigaltstack",
	"alarm",
	"pause",
	"getitimer",
	"setitimer",
	"timer_create",
	"timer_settime",
	"timer_gettime",
	"timer_getoverrun",
	"timer_delete",
	"getpid",
	"gettid",
	"getppid",
	"getpgid",
	"getpgrp",
	"getsid",
	"getuid",
	"geteuid",
	"getgid",
	"getegid",
	"getgroups",
	"getcwd",
	"chdir",
	"fchdir",
	"mkdir",
	"mkdirat",
	"rmdir",
	"rename",
	"renameat2",
	"unlink",
	"unlinkat",
	"link",
	"linkat",
	"symlink",
	"symlinkat",
	"chmod",
	"fchmod",
	"fchmodat",
	"umask",
	"truncate",
	"ftruncate",
	"fallocate",
	"fsync",
	"fdatasync",
	"sync",
	"syncfs",
	"flock",
	"sendfile",
	"copy_file_range",
	"splice",
	"tee",
	"utimensat",
	"mremap",
	"mlock",
	"munlock",
	"msync",
	"mincore",
	"membarrier",
	"rseq",
	"set_tid_address",
	"set_robust_list",
	"get_robust_list",
	"getrusage",
	"getrlimit",
	"prlimit64",
	"times",
	"sysinfo",
	"uname",
	"sched_getaffinity",
	"getpriority",
	"ioprio_get",
}

// dangerousSyscalls must be absent from every tier. The deny property is
// enforced exhaustively by tests over the full cross product of levels
// and entries here.
var dangerousSyscalls = []string{
	// process creation
	"execve",
	"execveat",
	"fork",
	"vfork",
	"clone",
	"clone3",
	// tracing
	"ptrace",
	// filesystem topology
	"mount",
	"umount",
	"umount2",
	"pivot_root",
	// credential changes
	"setuid",
	"setgid",
	"seteuid",
	"setegid",
	"setreuid",
	"setregid",
	"setresuid",
	"setresgid",
	"setfsuid",
	"setfsgid",
	// capabilities and process control
	"capset",
	"capget",
	"prctl",
	// networking
	"socket",
	"bind",
	"connect",
	// host control
	"reboot",
	"kexec_load",
	// raw hardware I/O
	"iopl",
	"ioperm",
	"io_setup",
	"io_submit",
}
