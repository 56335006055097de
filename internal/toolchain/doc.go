// Package toolchain names and locates the C toolchain for each platform role.
//
// Every [platform.Descriptor] maps to a [Key], the upper-cased canonical
// platform string with non-alphanumeric runes replaced by underscores. The
// key is the suffix of the per-platform compiler and linker variables
// (CC_<KEY>, CXX_<KEY>, LINKER_<KEY>). Distinct descriptors always yield
// distinct keys, and a key never depends on anything but its descriptor, so
// environments built from keys are stable across runs.
//
// Concrete executables come from a [Provider]. The resolver only names and
// wires them; provisioning the toolchains is someone else's job. A missing
// toolchain is reported as an [UnavailableError] and affects only the variant
// that asked for it.
package toolchain
