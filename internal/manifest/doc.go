// Package manifest loads the package description and matrix configuration.
//
// A manifest is a YAML file, conventionally cruxmatrix.yaml at the root of the
// source tree. It names the package and its sources, the matrix axes, the
// storage engine builds, the declared cross toolchains, and the inputs of the
// image packager. Relative paths are resolved against the directory holding
// the manifest.
//
// Example:
//
//	package:
//	  name: conduwuit
//	  version: 0.4.6
//	  binary: conduwuit
//	  sources: ["src/**/*.rs", "Cargo.toml", "Cargo.lock"]
//	build:
//	  command: ["cargo", "build", "--release"]
//	  artifact: target/{target}/release/conduwuit
//	matrix:
//	  allocators: [default, jemalloc]
//	  targets: [native, x86_64-unknown-linux-musl, aarch64-unknown-linux-musl]
//	storage:
//	  plain: /opt/rocksdb
//	  jemalloc: /opt/rocksdb-jemalloc
//	toolchains:
//	  aarch64-unknown-linux-musl:
//	    cc: /opt/cross/bin/aarch64-unknown-linux-musl-gcc
//	    cxx: /opt/cross/bin/aarch64-unknown-linux-musl-g++
//	    lib: /opt/cross/aarch64-unknown-linux-musl/lib
//	image:
//	  certificates: /etc/ssl/certs/ca-certificates.crt
//	  init: /usr/bin/tini-static
package manifest
