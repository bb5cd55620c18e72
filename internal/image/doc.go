// SPDX-License-Identifier: MPL-2.0

// Package image maps target descriptors to image references and makes sure
// the resolved image is present on the container engine.
//
// Resolution is pure: Resolve consults an explicit image, the caller's OS
// alias and the playbook's env hint, in that order, against an AliasTable.
// Provisioning lists local images and pulls only on a miss.
package image
