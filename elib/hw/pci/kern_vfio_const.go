// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

import "fmt"

const vfio_api_version = 0

const (
	vfio_type1_iommu = 1 + iota
	vfio_spapr_tce_iommu
	vfio_type1v2_iommu
	vfio_dma_cc_iommu
	vfio_eeh
	vfio_type1_nesting_iommu
	vfio_spapr_tce_v2_iommu
	vfio_noiommu_iommu
)

type vfio_ioctl_kind int

var vfio_ioctl_kind_strings = [...]string{
	vfio_get_api_version:       "vfio_get_api_version",
	vfio_check_extension:       "vfio_check_extension",
	vfio_set_iommu:             "vfio_set_iommu",
	vfio_group_get_status:      "vfio_group_get_status",
	vfio_group_set_container:   "vfio_group_set_container",
	vfio_group_unset_container: "vfio_group_unset_container",
	vfio_group_get_device_fd:   "vfio_group_get_device_fd",
	vfio_device_get_info:       "vfio_device_get_info",
	vfio_device_get_irq_info:   "vfio_device_get_irq_info",
	vfio_device_set_irqs:       "vfio_device_set_irqs",
	vfio_iommu_map_dma:         "vfio_iommu_map_dma",
	vfio_iommu_unmap_dma:       "vfio_iommu_unmap_dma",
}

func (k vfio_ioctl_kind) String() string {
	if i := int(k); i < len(vfio_ioctl_kind_strings) && len(vfio_ioctl_kind_strings[i]) > 0 {
		return vfio_ioctl_kind_strings[i]
	}
	return fmt.Sprintf("vfio_ioctl(0x%x)", int(k))
}

const (
	// /dev/vfio/vfio ioctls.
	vfio_get_api_version vfio_ioctl_kind = iota + 0x3b64
	vfio_check_extension
	vfio_set_iommu
	// /dev/vfio/GROUP_NUMBER ioctls.
	vfio_group_get_status
	vfio_group_set_container
	vfio_group_unset_container
	vfio_group_get_device_fd
	// device fd ioctls.
	vfio_device_get_info
	vfio_device_get_region_info
	vfio_device_get_irq_info
	vfio_device_set_irqs
	vfio_device_reset
	vfio_ioctl_first_driver
)

const (
	// /dev/vfio/vfio type 1 iommu ioctls.
	vfio_iommu_get_info vfio_ioctl_kind = iota + vfio_ioctl_first_driver
	vfio_iommu_map_dma
	vfio_iommu_unmap_dma
)

type vfio_ioctl_common struct {
	argsz, flags uint32
}

func (c *vfio_ioctl_common) set(size uintptr, flags uint) {
	c.argsz = uint32(size)
	c.flags = uint32(flags)
}
func (c *vfio_ioctl_common) set_size(size uintptr) {
	c.argsz = uint32(size)
	c.flags = 0
}

type vfio_iommu_type1_dma_map struct {
	vfio_ioctl_common
	vaddr uint64 /* Process virtual address */
	iova  uint64 /* IO virtual address */
	size  uint64 /* Size of mapping (bytes) */
}

const (
	vfio_dma_map_flag_read  = 1 << iota /* readable from device */
	vfio_dma_map_flag_write             /* writable from device */
)

type vfio_iommu_type1_dma_unmap struct {
	vfio_ioctl_common
	iova uint64 /* IO virtual address */
	size uint64 /* Size of mapping (bytes) */
}

type vfio_group_status struct {
	vfio_ioctl_common
}

const (
	vfio_group_flags_viable = 1 << iota
	vfio_group_flags_container_set
)

type vfio_device_info struct {
	vfio_ioctl_common
	num_regions uint32 /* Max region index + 1 */
	num_irqs    uint32 /* Max IRQ index + 1 */
}

type vfio_irq_info struct {
	vfio_ioctl_common
	index uint32 /* IRQ index */
	count uint32 /* Number of IRQs within this index */
}

const (
	vfio_irq_info_eventfd = 1 << iota
	vfio_irq_info_maskable
	vfio_irq_info_automasked
	vfio_irq_info_noresize
)

// Header of VFIO_DEVICE_SET_IRQS; count int32 eventfds follow.
type vfio_irq_set struct {
	vfio_ioctl_common
	index uint32 // one of vfio_pci_*_irq_index
	start uint32 // first irq
	count uint32
}

const (
	vfio_irq_set_data_none      = 1 << iota /* Data not present */
	vfio_irq_set_data_bool                  /* Data is bool (uint8) */
	vfio_irq_set_data_eventfd               /* Data is eventfd (int32) */
	vfio_irq_set_action_mask                /* Mask interrupt */
	vfio_irq_set_action_unmask              /* Unmask interrupt */
	vfio_irq_set_action_trigger             /* Trigger interrupt */
)

const (
	vfio_pci_intx_irq_index = iota
	vfio_pci_msi_irq_index
	vfio_pci_msix_irq_index
	vfio_pci_err_irq_index
	vfio_pci_req_irq_index
	vfio_pci_num_irqs
)
