// Parses the command line and dispatches lifecycle commands.
//
// The tool accepts the following commands:
//
//	clean [part-name...]     Remove the part work tree or the isolated instance.
//	pull [part-name...]      Run parts up to pull.
//	overlay [part-name...]   Run parts up to overlay.
//	build [part-name...]     Run parts up to build.
//	stage [part-name...]     Run parts up to stage.
//	prime [part-name...]     Run parts up to prime.
//	pack [-o DIR]            Build and export one archive per platform.
//	version                  Show version information.
//
// Step commands accept --shell, --shell-after (mutually exclusive), --debug
// and --destructive-mode. The global --verbosity flag selects the log level.
//
// The process exit status is 0 on success, 1 for a reported failure, 130 when
// interrupted and 70 for an internal error.
package cli
